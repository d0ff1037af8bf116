// Package registry loads a declarative roster of participating venues:
// per-venue default leverage cap, taker fee, and margin-requirement floor.
// Read-only once loaded. The execution engine does not import it; its
// leverage checks use only what VenueClient.GetLeverageInfo reports.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// VenueDefaults holds the static fallback values for one venue.
type VenueDefaults struct {
	Name                   string  `mapstructure:"name"`
	DefaultLeverageCap     float64 `mapstructure:"default_leverage_cap"`
	TakerFeePct            float64 `mapstructure:"taker_fee_pct"`
	MarginRequirementFloor float64 `mapstructure:"margin_requirement_floor"`
	CredentialEnvVar       string  `mapstructure:"credential_env_var"`
}

// LeverageCap returns the venue's default leverage cap as a Decimal.
func (v VenueDefaults) LeverageCap() decimal.Decimal {
	return decimal.NewFromFloat(v.DefaultLeverageCap)
}

// TakerFee returns the venue's taker fee as a Decimal fraction.
func (v VenueDefaults) TakerFee() decimal.Decimal {
	return decimal.NewFromFloat(v.TakerFeePct)
}

// MarginFloor returns the venue's margin-requirement floor as a Decimal
// fraction.
func (v VenueDefaults) MarginFloor() decimal.Decimal {
	return decimal.NewFromFloat(v.MarginRequirementFloor)
}

type rosterFile struct {
	Venues []VenueDefaults `mapstructure:"venues"`
}

// Registry is an in-memory, read-only lookup of VenueDefaults by venue name.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]VenueDefaults
}

// Load reads a YAML roster file with environment-variable overrides. Env
// vars are matched against dotted keys with "." replaced by "_" and the
// ATOMICEXEC_REGISTRY prefix, e.g. ATOMICEXEC_REGISTRY_VENUES_0_TAKER_FEE_PCT.
func Load(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ATOMICEXEC_REGISTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var file rosterFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("unmarshal roster: %w", err)
	}

	reg := &Registry{venues: make(map[string]VenueDefaults, len(file.Venues))}
	for _, venue := range file.Venues {
		reg.venues[venue.Name] = venue
	}

	return reg, nil
}

// Lookup returns the VenueDefaults for a venue name, if present.
func (r *Registry) Lookup(venue string) (VenueDefaults, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defaults, ok := r.venues[venue]
	return defaults, ok
}

// Names returns the roster's venue names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.venues))
	for name := range r.venues {
		names = append(names, name)
	}
	return names
}
