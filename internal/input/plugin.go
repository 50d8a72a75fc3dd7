package input

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ayusman/kinectkart/internal/plugin"
)

// PluginInjector sends key events through an out-of-process plugin.
type PluginInjector struct {
	executor *plugin.Executor
	plugin   *plugin.Plugin
	config   json.RawMessage
	names    KeyNames
	mu       sync.RWMutex
}

// NewPluginInjector creates an injector that runs p for every transition.
func NewPluginInjector(executor *plugin.Executor, p *plugin.Plugin, config json.RawMessage, names KeyNames) *PluginInjector {
	return &PluginInjector{
		executor: executor,
		plugin:   p,
		config:   config,
		names:    names,
	}
}

func (p *PluginInjector) Press(k Key) error {
	return p.send(plugin.ActionKeyDown, k)
}

func (p *PluginInjector) Release(k Key) error {
	return p.send(plugin.ActionKeyUp, k)
}

// Rebind replaces the key bindings.
func (p *PluginInjector) Rebind(names KeyNames) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = names
}

func (p *PluginInjector) send(action string, k Key) error {
	p.mu.RLock()
	name := p.names.Name(k)
	p.mu.RUnlock()

	req, err := plugin.NewKeyRequest(action, name, p.config)
	if err != nil {
		return err
	}

	resp, err := p.executor.Execute(context.Background(), p.plugin, req)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", p.plugin.Manifest.Name, err)
	}
	if !resp.Success {
		return fmt.Errorf("plugin %s %s %s: %s", p.plugin.Manifest.Name, action, name, resp.Error)
	}
	return nil
}
