// Package yamlspec loads machine definitions from YAML files. The plan
// field mirrors the engine's plan union: a string is an atomic unit, a
// sequence is a chain, a mapping is a branch of named arms.
package yamlspec

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

type machineSpec struct {
	Key         string                `mapstructure:"key"`
	Initial     string                `mapstructure:"initial"`
	States      map[string]stateSpec  `mapstructure:"states"`
	Transitions []transitionSpec      `mapstructure:"transitions"`
}

type stateSpec struct {
	Kind     string `mapstructure:"kind"`
	Name     string `mapstructure:"name"`
	Template string `mapstructure:"template"`
	Plan     any    `mapstructure:"plan"`
}

type transitionSpec struct {
	Event  string `mapstructure:"event"`
	Source string `mapstructure:"source"`
	Target string `mapstructure:"target"`
}

// Load reads one machine definition.
func Load(r io.Reader) (*domain.Machine, error) {
	raw := make(map[string]any)
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode machine yaml: %w", err)
	}

	var spec machineSpec
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &spec,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid machine definition: %w", err)
	}

	return build(&spec)
}

// LoadFile reads one machine definition from a file.
func LoadFile(path string) (*domain.Machine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open machine file: %w", err)
	}
	defer f.Close()

	m, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadDir reads every .yaml/.yml file under dir as one machine each.
func LoadDir(dir string) ([]*domain.Machine, error) {
	var machines []*domain.Machine
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		m, err := LoadFile(path)
		if err != nil {
			return err
		}
		machines = append(machines, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(machines) == 0 {
		return nil, fmt.Errorf("no machine definitions under %s", dir)
	}
	return machines, nil
}

func build(spec *machineSpec) (*domain.Machine, error) {
	if spec.Key == "" {
		return nil, fmt.Errorf("machine definition without a key")
	}

	m := &domain.Machine{
		Key:     spec.Key,
		Initial: spec.Initial,
		States:  make(map[string]*domain.StateDef, len(spec.States)),
	}

	for id, st := range spec.States {
		kind, err := parseKind(st.Kind)
		if err != nil {
			return nil, fmt.Errorf("state %q: %w", id, err)
		}
		def := &domain.StateDef{
			ID:       id,
			Name:     st.Name,
			Kind:     kind,
			Template: st.Template,
		}
		if st.Plan != nil {
			plan, err := buildPlan(st.Plan)
			if err != nil {
				return nil, fmt.Errorf("state %q: %w", id, err)
			}
			def.Plan = plan
		}
		m.States[id] = def
	}

	for _, t := range spec.Transitions {
		if t.Event == "" || t.Source == "" || t.Target == "" {
			return nil, fmt.Errorf("transition requires event, source and target, got %+v", t)
		}
		m.Transitions = append(m.Transitions, domain.Transition{
			Event:  t.Event,
			Source: t.Source,
			Target: t.Target,
		})
	}
	return m, nil
}

func parseKind(kind string) (domain.StateKind, error) {
	switch strings.ToLower(kind) {
	case "user":
		return domain.KindUser, nil
	case "invoker":
		return domain.KindInvoker, nil
	default:
		return "", fmt.Errorf("unknown state kind %q", kind)
	}
}

// buildPlan maps the YAML value onto the plan union.
func buildPlan(v any) (*domain.PlanNode, error) {
	switch node := v.(type) {
	case string:
		return domain.Atomic(node), nil

	case []any:
		children := make([]*domain.PlanNode, 0, len(node))
		for i, child := range node {
			c, err := buildPlan(child)
			if err != nil {
				return nil, fmt.Errorf("chain position %d: %w", i, err)
			}
			children = append(children, c)
		}
		return domain.Chain(children...), nil

	case map[string]any:
		names := make([]string, 0, len(node))
		for name := range node {
			names = append(names, name)
		}
		sort.Strings(names)

		arms := make([]domain.BranchArm, 0, len(names))
		for _, name := range names {
			c, err := buildPlan(node[name])
			if err != nil {
				return nil, fmt.Errorf("branch arm %q: %w", name, err)
			}
			arms = append(arms, domain.Arm(name, c))
		}
		return domain.Branch(arms...), nil

	default:
		return nil, fmt.Errorf("plan values must be a unit name, a sequence or a mapping, got %T", v)
	}
}
