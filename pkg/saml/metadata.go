package saml

import (
	"encoding/xml"
	"fmt"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/russellhaering/gosaml2/types"
	"gopkg.in/yaml.v3"
)

// ServiceProvider is the resolved metadata of a relying service.
type ServiceProvider struct {
	EntityID                  string
	DisplayName               string
	DisplayNameNL             string
	AssertionConsumerServices []Endpoint
}

// Endpoint is a single assertion consumer service endpoint.
type Endpoint struct {
	Binding   string
	Location  string
	Index     int
	IsDefault bool
}

// PreferredACS picks the endpoint to dispatch to. A default-marked
// endpoint always wins; otherwise the first endpoint carrying the
// preferred binding; otherwise the first endpoint listed. Endpoint
// indices carry no preference.
func (sp *ServiceProvider) PreferredACS(preferredBinding string) (Endpoint, error) {
	if len(sp.AssertionConsumerServices) == 0 {
		return Endpoint{}, fmt.Errorf("service provider %s has no assertion consumer services", sp.EntityID)
	}
	for _, acs := range sp.AssertionConsumerServices {
		if acs.IsDefault {
			return acs, nil
		}
	}
	for _, acs := range sp.AssertionConsumerServices {
		if acs.Binding == preferredBinding {
			return acs, nil
		}
	}
	return sp.AssertionConsumerServices[0], nil
}

// indexedEndpointXML captures the isDefault attribute, which the gosaml2
// endpoint types do not expose.
type indexedEndpointXML struct {
	Binding   string `xml:"Binding,attr"`
	Location  string `xml:"Location,attr"`
	Index     int    `xml:"index,attr"`
	IsDefault bool   `xml:"isDefault,attr"`
}

type entityDescriptorXML struct {
	SPSSODescriptor struct {
		AssertionConsumerServices []indexedEndpointXML `xml:"AssertionConsumerService"`
	} `xml:"SPSSODescriptor"`
}

// ParseServiceProviderMetadata parses a relying service's metadata document.
func ParseServiceProviderMetadata(raw []byte) (*ServiceProvider, error) {
	var descriptor types.EntityDescriptor
	if err := xml.Unmarshal(raw, &descriptor); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if descriptor.EntityID == "" {
		return nil, fmt.Errorf("metadata has no entityID")
	}
	if descriptor.SPSSODescriptor == nil {
		return nil, fmt.Errorf("metadata for %s has no SPSSODescriptor", descriptor.EntityID)
	}

	var endpoints entityDescriptorXML
	if err := xml.Unmarshal(raw, &endpoints); err != nil {
		return nil, fmt.Errorf("failed to parse metadata endpoints: %w", err)
	}

	sp := &ServiceProvider{EntityID: descriptor.EntityID}
	for _, acs := range endpoints.SPSSODescriptor.AssertionConsumerServices {
		sp.AssertionConsumerServices = append(sp.AssertionConsumerServices, Endpoint{
			Binding:   acs.Binding,
			Location:  acs.Location,
			Index:     acs.Index,
			IsDefault: acs.IsDefault,
		})
	}
	if len(sp.AssertionConsumerServices) == 0 {
		return nil, fmt.Errorf("metadata for %s has no assertion consumer services", descriptor.EntityID)
	}
	return sp, nil
}

// registryEntry is one relying service in the registry config file.
type registryEntry struct {
	EntityID      string `yaml:"entity_id"`
	MetadataFile  string `yaml:"metadata_file"`
	DisplayName   string `yaml:"display_name"`
	DisplayNameNL string `yaml:"display_name_nl"`
}

type registryConfig struct {
	ServiceProviders []registryEntry `yaml:"service_providers"`
}

// Registry resolves relying services by entity id. Metadata files are
// parsed lazily and kept in an LRU cache.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	cache   *lru.Cache[string, *ServiceProvider]
}

const registryCacheSize = 128

// NewRegistry loads the registry config from a YAML file.
func NewRegistry(configPath string) (*Registry, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read service provider registry: %w", err)
	}
	var cfg registryConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse service provider registry: %w", err)
	}

	registry, err := newEmptyRegistry()
	if err != nil {
		return nil, err
	}
	for _, entry := range cfg.ServiceProviders {
		if entry.EntityID == "" || entry.MetadataFile == "" {
			return nil, fmt.Errorf("registry entry needs both entity_id and metadata_file")
		}
		registry.entries[entry.EntityID] = entry
	}
	return registry, nil
}

func newEmptyRegistry() (*Registry, error) {
	cache, err := lru.New[string, *ServiceProvider](registryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}
	return &Registry{
		entries: make(map[string]registryEntry),
		cache:   cache,
	}, nil
}

// NewEmptyRegistry builds a registry with no configured services. Services
// are added with AddServiceProvider.
func NewEmptyRegistry() *Registry {
	registry, err := newEmptyRegistry()
	if err != nil {
		panic(err)
	}
	return registry
}

// AddServiceProvider registers an already-parsed relying service.
func (r *Registry) AddServiceProvider(sp *ServiceProvider) {
	r.cache.Add(sp.EntityID, sp)
	r.mu.Lock()
	r.entries[sp.EntityID] = registryEntry{EntityID: sp.EntityID}
	r.mu.Unlock()
}

// ServiceProviderByEntityID resolves a relying service, parsing its
// metadata file on first use.
func (r *Registry) ServiceProviderByEntityID(entityID string) (*ServiceProvider, error) {
	if sp, ok := r.cache.Get(entityID); ok {
		return sp, nil
	}

	r.mu.RLock()
	entry, ok := r.entries[entityID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown service provider %s", entityID)
	}
	if entry.MetadataFile == "" {
		return nil, fmt.Errorf("no metadata on file for %s", entityID)
	}

	raw, err := os.ReadFile(entry.MetadataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata for %s: %w", entityID, err)
	}
	sp, err := ParseServiceProviderMetadata(raw)
	if err != nil {
		return nil, err
	}
	if sp.EntityID != entityID {
		return nil, fmt.Errorf("metadata file for %s declares entityID %s", entityID, sp.EntityID)
	}
	sp.DisplayName = entry.DisplayName
	sp.DisplayNameNL = entry.DisplayNameNL
	r.cache.Add(entityID, sp)
	return sp, nil
}
