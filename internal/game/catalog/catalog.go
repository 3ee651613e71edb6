package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/buenosos/buenosos-server-go/internal/game/effects"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// Service is the static definition of a board service.
type Service struct {
	ID            string   `yaml:"id" json:"id"`
	Name          string   `yaml:"name" json:"name"`
	Crit          int      `yaml:"crit" json:"crit"`
	IntMax        int      `yaml:"intMax" json:"intMax"`
	Dependencies  []string `yaml:"dependencies" json:"dependencies"`
	CitizenFacing bool     `yaml:"citizenFacing" json:"citizenFacing"`
	DownEffect    string   `yaml:"downEffect" json:"downEffect,omitempty"`
}

// Card is immutable reference data for one card.
type Card struct {
	ID           string           `yaml:"id" json:"id"`
	Name         string           `yaml:"name" json:"name"`
	Side         rules.Side       `yaml:"-" json:"side"`
	Category     rules.Category   `yaml:"category" json:"category"`
	Subtype      string           `yaml:"subtype" json:"subtype,omitempty"`
	Cost         int              `yaml:"cost" json:"cost"`
	Requirements []string         `yaml:"requirements" json:"requirements,omitempty"`
	Targeting    string           `yaml:"targeting" json:"targeting,omitempty"`
	Duration     rules.Duration   `yaml:"duration" json:"duration"`
	IsHighImpact bool             `yaml:"isHighImpact" json:"isHighImpact,omitempty"`
	RawEffects   []map[string]any `yaml:"effects" json:"effects"`

	// Effects is RawEffects decoded; populated by Load.
	Effects []effects.Descriptor `yaml:"-" json:"-"`
}

type servicesFile struct {
	Map      string    `yaml:"map"`
	Services []Service `yaml:"services"`
}

type cardsFile struct {
	Malosos  []Card `yaml:"malosos"`
	Buenosos []Card `yaml:"buenosos"`
	Events   []Card `yaml:"events"`
}

// Catalog exposes services, cards and the three named decks by id.
type Catalog struct {
	mapID      string
	services   []Service
	serviceIdx map[string]int
	cards      map[string]*Card
	decks      map[rules.Side][]string
}

//go:embed data/*.yaml
var embeddedFS embed.FS

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the process-wide embedded catalog. It panics if the
// embedded data is invalid, which only a broken build can cause.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Load(embeddedFS)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("catalog: embedded data invalid: %v", defaultErr))
	}
	return defaultCatalog
}

// Load reads data/services.yaml and data/cards.yaml from fsys.
func Load(fsys fs.FS) (*Catalog, error) {
	serviceData, err := fs.ReadFile(fsys, "data/services.yaml")
	if err != nil {
		return nil, fmt.Errorf("read services: %w", err)
	}
	var sf servicesFile
	if err := yaml.Unmarshal(serviceData, &sf); err != nil {
		return nil, fmt.Errorf("parse services: %w", err)
	}

	cardData, err := fs.ReadFile(fsys, "data/cards.yaml")
	if err != nil {
		return nil, fmt.Errorf("read cards: %w", err)
	}
	var cf cardsFile
	if err := yaml.Unmarshal(cardData, &cf); err != nil {
		return nil, fmt.Errorf("parse cards: %w", err)
	}

	c := &Catalog{
		mapID:      sf.Map,
		services:   sf.Services,
		serviceIdx: make(map[string]int, len(sf.Services)),
		cards:      make(map[string]*Card),
		decks:      make(map[rules.Side][]string, 3),
	}
	for i, svc := range sf.Services {
		if _, dup := c.serviceIdx[svc.ID]; dup {
			return nil, fmt.Errorf("duplicate service %s", svc.ID)
		}
		c.serviceIdx[svc.ID] = i
	}

	decks := []struct {
		side  rules.Side
		cards []Card
	}{
		{rules.SideMalosos, cf.Malosos},
		{rules.SideBuenosos, cf.Buenosos},
		{rules.SideEvent, cf.Events},
	}
	for _, deck := range decks {
		ids := make([]string, 0, len(deck.cards))
		for i := range deck.cards {
			card := deck.cards[i]
			card.Side = deck.side
			if card.RawEffects == nil {
				card.RawEffects = []map[string]any{}
			}
			card.Effects, err = effects.DecodeList(card.RawEffects)
			if err != nil {
				return nil, fmt.Errorf("card %s: %w", card.ID, err)
			}
			if _, dup := c.cards[card.ID]; dup {
				return nil, fmt.Errorf("duplicate card %s", card.ID)
			}
			c.cards[card.ID] = &card
			ids = append(ids, card.ID)
		}
		c.decks[deck.side] = ids
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks referential integrity of the loaded data.
func (c *Catalog) Validate() error {
	if len(c.services) == 0 {
		return fmt.Errorf("catalog has no services")
	}
	for _, svc := range c.services {
		if svc.ID == "" {
			return fmt.Errorf("service with empty id")
		}
		if svc.Crit < 1 || svc.Crit > 5 {
			return fmt.Errorf("service %s: criticality %d out of range", svc.ID, svc.Crit)
		}
		if svc.IntMax <= 0 {
			return fmt.Errorf("service %s: intMax must be positive", svc.ID)
		}
		for _, dep := range svc.Dependencies {
			if _, ok := c.serviceIdx[dep]; !ok {
				return fmt.Errorf("service %s: unknown dependency %s", svc.ID, dep)
			}
			if dep == svc.ID {
				return fmt.Errorf("service %s depends on itself", svc.ID)
			}
		}
	}
	for side, ids := range c.decks {
		if len(ids) == 0 {
			return fmt.Errorf("deck %s is empty", side)
		}
		for _, id := range ids {
			card := c.cards[id]
			if card.Side != side {
				return fmt.Errorf("card %s: side %s does not match deck %s", id, card.Side, side)
			}
			if card.Cost < 0 {
				return fmt.Errorf("card %s: negative cost", id)
			}
			if !card.Category.Valid() {
				return fmt.Errorf("card %s: unknown category %q", id, card.Category)
			}
		}
	}
	return nil
}

// MapID names the board layout the services belong to.
func (c *Catalog) MapID() string {
	return c.mapID
}

// Service returns the definition of id.
func (c *Catalog) Service(id string) (Service, bool) {
	i, ok := c.serviceIdx[id]
	if !ok {
		return Service{}, false
	}
	return c.services[i], true
}

// Services returns every service in catalog order.
func (c *Catalog) Services() []Service {
	out := make([]Service, len(c.services))
	copy(out, c.services)
	return out
}

// Card returns the card with id.
func (c *Catalog) Card(id string) (*Card, bool) {
	card, ok := c.cards[id]
	return card, ok
}

// Cards returns every card, attacker deck first, then defender, then events.
func (c *Catalog) Cards() []*Card {
	out := make([]*Card, 0, len(c.cards))
	for _, side := range []rules.Side{rules.SideMalosos, rules.SideBuenosos, rules.SideEvent} {
		for _, id := range c.decks[side] {
			out = append(out, c.cards[id])
		}
	}
	return out
}

// Deck returns the ordered card ids of a side's deck.
func (c *Catalog) Deck(side rules.Side) []string {
	ids := c.decks[side]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
