package providers

import (
	"fmt"
	"strings"
	"sync"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// Constructor builds a provider. It is called at most once per registration.
type Constructor func() Provider

type registration struct {
	name  string
	build Constructor
	once  sync.Once
	inst  Provider
}

func (r *registration) instance() Provider {
	r.once.Do(func() { r.inst = r.build() })
	return r.inst
}

// Factory resolves a channel to a provider. Resolution order: the explicit
// name, the channel preference when that provider is configured, the first
// configured provider in registration order, then the channel default even
// when it is not configured.
type Factory struct {
	mu          sync.RWMutex
	channels    map[string][]*registration
	preferences map[string]string
	defaults    map[string]string
	logger      *logging.Logger
}

func NewFactory(logger *logging.Logger) *Factory {
	if logger == nil {
		logger = logging.Default()
	}
	return &Factory{
		channels:    make(map[string][]*registration),
		preferences: make(map[string]string),
		defaults:    make(map[string]string),
		logger:      logger,
	}
}

// Register adds a provider constructor for channel. Registering the same
// name twice replaces the earlier constructor.
func (f *Factory) Register(channel, name string, build Constructor) {
	channel, name = normalizeKey(channel), normalizeKey(name)
	f.mu.Lock()
	defer f.mu.Unlock()
	regs := f.channels[channel]
	for i, r := range regs {
		if r.name == name {
			regs[i] = &registration{name: name, build: build}
			return
		}
	}
	f.channels[channel] = append(regs, &registration{name: name, build: build})
}

// SetPreference selects the preferred provider for channel. "auto" or an
// empty name clears it.
func (f *Factory) SetPreference(channel, name string) {
	channel, name = normalizeKey(channel), normalizeKey(name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "" || name == "auto" {
		delete(f.preferences, channel)
		return
	}
	f.preferences[channel] = name
}

// SetDefault names the provider returned when nothing is configured.
func (f *Factory) SetDefault(channel, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults[normalizeKey(channel)] = normalizeKey(name)
}

// Get resolves the provider for channel. name may be empty.
func (f *Factory) Get(channel, name string) (Provider, error) {
	channel, name = normalizeKey(channel), normalizeKey(name)
	f.mu.RLock()
	regs := f.channels[channel]
	pref := f.preferences[channel]
	def := f.defaults[channel]
	f.mu.RUnlock()

	if len(regs) == 0 {
		return nil, fmt.Errorf("providers: unsupported channel %q", channel)
	}
	find := func(n string) *registration {
		for _, r := range regs {
			if r.name == n {
				return r
			}
		}
		return nil
	}

	if r := find(name); name != "" && r != nil {
		return r.instance(), nil
	}
	if r := find(pref); pref != "" && r != nil {
		if p := r.instance(); p.IsConfigured() {
			return p, nil
		}
	}
	for _, r := range regs {
		if p := r.instance(); p.IsConfigured() {
			if pref != "" {
				f.logger.Info("using fallback provider", "channel", channel, "provider", p.Name(), "preferred", pref)
			}
			return p, nil
		}
	}
	f.logger.Warn("no configured provider, using default", "channel", channel, "provider", def)
	if r := find(def); r != nil {
		return r.instance(), nil
	}
	return regs[0].instance(), nil
}

// Available lists the registered providers of channel.
func (f *Factory) Available(channel string) []Info {
	channel = normalizeKey(channel)
	f.mu.RLock()
	regs := append([]*registration(nil), f.channels[channel]...)
	f.mu.RUnlock()

	out := make([]Info, 0, len(regs))
	for _, r := range regs {
		out = append(out, Info{Channel: channel, Name: r.name, Configured: r.instance().IsConfigured()})
	}
	return out
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
