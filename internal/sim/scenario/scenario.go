package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/game"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/tuning"
	"opwar.ai/internal/sim/units"
)

// Scenario is the YAML description of a starting position.
type Scenario struct {
	ID    string `yaml:"id"`
	Seed  int64  `yaml:"seed"`
	Start int64  `yaml:"start_minutes"`

	DefaultIntensity int `yaml:"default_intensity"`

	Objectives []ObjectiveSpec `yaml:"objectives"`
	Units      []UnitSpec      `yaml:"units"`
	Orders     []OrderEntry    `yaml:"orders"`
	Combats    []CombatEntry   `yaml:"combats"`
}

type ObjectiveSpec struct {
	Hex    hexgrid.Coord `yaml:"hex"`
	Points int           `yaml:"points"`
}

type UnitSpec struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Side      string         `yaml:"side"`
	Personnel int            `yaml:"personnel"`
	Equipment int            `yaml:"equipment"`
	Ammo      int            `yaml:"ammo"`
	Combatant *bool          `yaml:"combatant"`
	Hex       *hexgrid.Coord `yaml:"hex"`
	Mode      string         `yaml:"mode"`
	Visible   *bool          `yaml:"visible"`
}

// OrderEntry is an order posted for a unit at the start time.
type OrderEntry struct {
	Unit  string         `yaml:"unit"`
	Order game.OrderSpec `yaml:"order"`
}

// CombatEntry involves a placed unit in the combat at Hex (its own hex if
// omitted).
type CombatEntry struct {
	Unit        string         `yaml:"unit"`
	Hex         *hexgrid.Coord `yaml:"hex"`
	Preparation int            `yaml:"preparation"`
	Edge        string         `yaml:"edge"`
}

func Load(path string) (Scenario, error) {
	var sc Scenario
	b, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return sc, fmt.Errorf("%s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return sc, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

func (sc *Scenario) Validate() error {
	if strings.TrimSpace(sc.ID) == "" {
		return fmt.Errorf("missing id")
	}
	seen := map[string]bool{}
	for i, u := range sc.Units {
		if u.ID == "" {
			return fmt.Errorf("units[%d]: missing id", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("units[%d]: duplicate id %s", i, u.ID)
		}
		seen[u.ID] = true
		if u.Side == "" {
			return fmt.Errorf("unit %s: missing side", u.ID)
		}
		if u.Personnel < 0 || u.Equipment < 0 || u.Ammo < 0 {
			return fmt.Errorf("unit %s: negative strength", u.ID)
		}
		if u.Mode != "" {
			if _, err := units.ParseMode(u.Mode); err != nil {
				return fmt.Errorf("unit %s: %w", u.ID, err)
			}
		}
	}
	for i, o := range sc.Orders {
		if !seen[o.Unit] {
			return fmt.Errorf("orders[%d]: unknown unit %q", i, o.Unit)
		}
	}
	for i, c := range sc.Combats {
		if !seen[c.Unit] {
			return fmt.Errorf("combats[%d]: unknown unit %q", i, c.Unit)
		}
		if _, err := hexgrid.ParseEdge(c.Edge); err != nil {
			return fmt.Errorf("combats[%d]: %w", i, err)
		}
	}
	for i, ob := range sc.Objectives {
		if ob.Points <= 0 {
			return fmt.Errorf("objectives[%d]: points must be positive", i)
		}
	}
	return nil
}

// Roster builds a fresh roster from the unit list.
func (sc *Scenario) Roster() (*units.Roster, error) {
	r := units.NewRoster()
	for _, us := range sc.Units {
		combatant := true
		if us.Combatant != nil {
			combatant = *us.Combatant
		}
		u := &units.Unit{
			ID:        us.ID,
			Name:      us.Name,
			Side:      units.Side(us.Side),
			Personnel: us.Personnel,
			Equipment: us.Equipment,
			Ammo:      us.Ammo,
			Combatant: combatant,
		}
		if err := r.Add(u); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (sc *Scenario) Config(t tuning.Tuning) game.Config {
	cfg := game.Config{
		ID:               sc.ID,
		Seed:             sc.Seed,
		Start:            clock.SimTime(sc.Start),
		Tuning:           t,
		DefaultIntensity: sc.DefaultIntensity,
	}
	if len(sc.Objectives) > 0 {
		cfg.Objectives = map[string]int{}
		for _, ob := range sc.Objectives {
			cfg.Objectives[ob.Hex.Key()] += ob.Points
		}
	}
	return cfg
}

// Commands is the setup of the scenario expressed as game commands:
// placements, then orders, then combat involvement.
func (sc *Scenario) Commands() []game.Command {
	var out []game.Command
	for _, us := range sc.Units {
		if us.Hex == nil {
			continue
		}
		hex := *us.Hex
		visible := true
		if us.Visible != nil {
			visible = *us.Visible
		}
		out = append(out, game.Command{
			Kind:    game.CmdPlace,
			Unit:    us.ID,
			Hex:     &hex,
			Mode:    units.Mode(us.Mode),
			Visible: visible,
		})
	}
	for _, oe := range sc.Orders {
		spec := oe.Order
		out = append(out, game.Command{Kind: game.CmdPost, Unit: oe.Unit, Order: &spec})
	}
	for _, ce := range sc.Combats {
		cmd := game.Command{
			Kind:        game.CmdInvolve,
			Unit:        ce.Unit,
			Preparation: ce.Preparation,
			Edge:        hexgrid.EdgeType(ce.Edge),
		}
		if ce.Hex != nil {
			hex := *ce.Hex
			cmd.Hex = &hex
		}
		out = append(out, cmd)
	}
	return out
}

// NewGame creates the game with the scenario's roster and configuration but
// places nothing. Replays start from here.
func (sc *Scenario) NewGame(t tuning.Tuning, opts game.Options) (*game.Game, error) {
	r, err := sc.Roster()
	if err != nil {
		return nil, err
	}
	return game.New(sc.Config(t), r, opts)
}

// Build creates the game and applies the setup commands.
func (sc *Scenario) Build(t tuning.Tuning, opts game.Options) (*game.Game, error) {
	g, err := sc.NewGame(t, opts)
	if err != nil {
		return nil, err
	}
	for i, cmd := range sc.Commands() {
		if err := g.Apply(cmd); err != nil {
			return nil, fmt.Errorf("scenario %s setup %d (%s %s): %w", sc.ID, i, cmd.Kind, cmd.Unit, err)
		}
	}
	return g, nil
}
