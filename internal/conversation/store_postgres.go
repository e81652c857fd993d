package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/coop-chat-agent/internal/intent"
	"github.com/wolfman30/coop-chat-agent/internal/partners"
)

var tracer = otel.Tracer("coop.internal.conversation")

// PgxPool is the subset of pgxpool.Pool used by PostgresStore.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists conversations in the conversations and
// conversation_messages tables.
type PostgresStore struct {
	pool PgxPool
}

func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("conversation: pgx pool cannot be nil")
	}
	return &PostgresStore{pool: pool}
}

const conversationColumns = `id, channel, address, partner, authenticated, status, context, last_interaction, created_at`

// GetOrCreate relies on a single upsert so that concurrent first messages
// converge on one row.
func (s *PostgresStore) GetOrCreate(ctx context.Context, key Key) (*Conversation, error) {
	ctx, span := tracer.Start(ctx, "conversation.store.get_or_create")
	defer span.End()
	span.SetAttributes(attribute.String("channel", key.Channel))

	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (channel, address, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel, address)
		DO UPDATE SET channel = EXCLUDED.channel
		RETURNING `+conversationColumns,
		key.Channel, key.Address, string(StatusPendingAuth))
	c, err := scanConversation(row)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: get or create %s: %w", key, err)
	}
	return c, nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE channel = $1 AND address = $2`,
		key.Channel, key.Address)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get %s: %w", key, err)
	}
	return c, nil
}

func (s *PostgresStore) Update(ctx context.Context, key Key, fn func(*Conversation) error) (*Conversation, error) {
	ctx, span := tracer.Start(ctx, "conversation.store.update")
	defer span.End()
	span.SetAttributes(attribute.String("channel", key.Channel))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// NO KEY UPDATE still serializes turns but lets message inserts, which
	// take KEY SHARE on the row, go through while fn runs.
	row := tx.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE channel = $1 AND address = $2
		FOR NO KEY UPDATE`,
		key.Channel, key.Address)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: lock %s: %w", key, err)
	}

	if err := fn(c); err != nil {
		return nil, err
	}
	if c.Authenticated && c.Partner == nil {
		return nil, fmt.Errorf("conversation: %s authenticated without partner", key)
	}

	partnerJSON, partnerID, err := encodePartner(c.Partner)
	if err != nil {
		return nil, err
	}
	contextJSON, err := json.Marshal(c.Context)
	if err != nil {
		return nil, fmt.Errorf("conversation: encode context: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations
		SET partner_id = $2,
		    partner = $3,
		    authenticated = $4,
		    status = $5,
		    context = $6,
		    last_interaction = $7
		WHERE id = $1`,
		c.ID, partnerID, partnerJSON, c.Authenticated, string(c.Status), contextJSON, c.LastInteraction.UTC()); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: save %s: %w", key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: commit: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	meta := msg.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Message{}, fmt.Errorf("conversation: encode metadata: %w", err)
	}
	var intentValue *string
	if msg.Intent != "" {
		v := string(msg.Intent)
		intentValue = &v
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversation_messages (conversation_id, role, body, intent, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		msg.ConversationID, string(msg.Role), msg.Body, intentValue, metaJSON)
	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("conversation: append message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) Messages(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, body, intent, metadata, created_at
		FROM (
			SELECT id, conversation_id, role, body, intent, metadata, created_at
			FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY id DESC
			LIMIT NULLIF($2, 0)
		) recent
		ORDER BY id ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m         Message
			role      string
			intentCol *string
			metaJSON  []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Body, &intentCol, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		m.Role = Role(role)
		if intentCol != nil {
			m.Intent = intent.Type(*intentCol)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return nil, fmt.Errorf("conversation: decode metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		c           Conversation
		status      string
		partnerJSON []byte
		contextJSON []byte
		lastAt      time.Time
		createdAt   time.Time
	)
	if err := row.Scan(&c.ID, &c.Channel, &c.Address, &partnerJSON, &c.Authenticated, &status, &contextJSON, &lastAt, &createdAt); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	c.LastInteraction = lastAt.UTC()
	c.CreatedAt = createdAt.UTC()
	if len(partnerJSON) > 0 && string(partnerJSON) != "null" {
		var p partners.Partner
		if err := json.Unmarshal(partnerJSON, &p); err != nil {
			return nil, fmt.Errorf("decode partner: %w", err)
		}
		c.Partner = &p
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &c.Context); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func encodePartner(p *partners.Partner) ([]byte, *int64, error) {
	if p == nil {
		return nil, nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("conversation: encode partner: %w", err)
	}
	id := p.ID
	return raw, &id, nil
}

var _ Store = (*PostgresStore)(nil)
