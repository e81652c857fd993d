package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	getErr   error
}

type putCall struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{
		bucket:      *input.Bucket,
		key:         *input.Key,
		contentType: *input.ContentType,
		body:        body,
	})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func testStore(mock *mockS3Client) *Store {
	store := NewStore(mock, "receipts-bucket", logging.Discard())
	store.now = func() time.Time { return time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC) }
	return store
}

func TestStore_ArchiveReceipt(t *testing.T) {
	mock := newMockS3()
	store := testStore(mock)

	image := []byte("\x89PNG\r\n\x1a\nfake")
	key, err := store.ArchiveReceipt(context.Background(), ReceiptRecord{
		ReceiptID:   "77",
		PartnerID:   42,
		DocHash:     Hash("12345678"),
		Channel:     "whatsapp",
		Filename:    "receipt_42_51987654321_ab12cd34.png",
		ContentType: "image/png",
		SizeBytes:   len(image),
		Amount:      150,
		PaymentDate: "2025-03-14",
		Method:      "caption",
		Caption:     "pago 150.00 desde 987654321",
	}, image)
	require.NoError(t, err)
	assert.Equal(t, "receipts/v1/by-date/2025/03/14/receipt_42_51987654321_ab12cd34.png", key)

	require.Len(t, mock.putCalls, 3)
	assert.Equal(t, "receipts-bucket", mock.putCalls[0].bucket)
	assert.Equal(t, "image/png", mock.putCalls[0].contentType)
	assert.Equal(t, image, mock.putCalls[0].body)

	assert.Equal(t, "receipts/v1/by-date/2025/03/14/receipt_42_51987654321_ab12cd34.json", mock.putCalls[1].key)
	var decoded ReceiptRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[1].body, &decoded))
	assert.Equal(t, RecordVersion, decoded.Version)
	assert.Equal(t, key, decoded.ImageKey)
	assert.Equal(t, "pago 150.00 desde [PHONE]", decoded.Caption)

	assert.Equal(t, "receipts/v1/manifests/2025-03.jsonl", mock.putCalls[2].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[2].body), &entry))
	assert.Equal(t, "77", entry.ReceiptID)
	assert.Equal(t, mock.putCalls[1].key, entry.RecordKey)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())

	var nilStore *Store
	assert.False(t, nilStore.Enabled())

	key, err := store.ArchiveReceipt(context.Background(), ReceiptRecord{}, nil)
	assert.NoError(t, err)
	assert.Empty(t, key)
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := testStore(mock)

	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{ReceiptID: "1"}))
	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{ReceiptID: "2"}))

	lastPut := mock.putCalls[len(mock.putCalls)-1]
	lines := bytes.Split(bytes.TrimSpace(lastPut.body), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadFailureIsReported(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := testStore(mock)

	err := store.AppendManifest(context.Background(), ManifestEntry{ReceiptID: "1"})
	require.Error(t, err)
	assert.Empty(t, mock.putCalls, "an unreadable manifest must not be overwritten")

	_, err = store.ArchiveReceipt(context.Background(), ReceiptRecord{ReceiptID: "2", Filename: "r.jpg"}, []byte("x"))
	assert.NoError(t, err, "manifest failures do not fail the archive")
}
