package board

import (
	"errors"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// ErrNoManifest indicates the board definition file does not exist.
var ErrNoManifest = errors.New("board definition file not found")

// Manifest is parsed from a boards.toml definition file:
//
//	[[board]]
//	id = "docs"
//	name = "Documentation"
//
//	[[board.stage]]
//	name = "backlog"
//
//	[[board.stage]]
//	name = "in_progress"
//	wip_limit = 2
//
// A board without stages gets DefaultStages.
type Manifest struct {
	Boards []Board `toml:"board"`
}

// LoadManifest reads and validates a board definition file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoManifest, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates board definitions.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing board definitions: %w", err)
	}

	seen := make(map[string]bool, len(m.Boards))
	for i := range m.Boards {
		b := &m.Boards[i]
		if len(b.Stages) == 0 {
			b.Stages = DefaultStages()
		}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("%w: board %q defined twice", ErrInvalidBoard, b.ID)
		}
		seen[b.ID] = true
	}
	return &m, nil
}

// ApplyWIPLimits overrides stage limits on every board that declares the
// stage. A negative limit clears it.
func (m *Manifest) ApplyWIPLimits(limits map[string]int) error {
	for i := range m.Boards {
		b := &m.Boards[i]
		for stage, n := range limits {
			if !b.HasStage(stage) {
				continue
			}
			if err := b.SetWIPLimit(stage, n); err != nil {
				return err
			}
		}
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes the manifest back to TOML.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling board definitions: %w", err)
	}
	return data, nil
}
