package evm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ParseInterface parses an ABI JSON document. The document may also be a JSON string that
// itself contains the ABI array, which is how the legacy control surface submitted it.
func ParseInterface(raw []byte) (*abi.ABI, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: abi is empty", ErrConfig)
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: abi string: %v", ErrConfig, err)
		}
		raw = []byte(strings.TrimSpace(inner))
	}
	// compiler artifacts (hardhat, foundry) wrap the array in an object
	if len(raw) > 0 && raw[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return nil, fmt.Errorf("%w: abi artifact: %v", ErrConfig, err)
		}
		if len(artifact.ABI) == 0 {
			return nil, fmt.Errorf("%w: abi artifact has no abi field", ErrConfig)
		}
		raw = artifact.ABI
	}
	a, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: parse abi: %v", ErrConfig, err)
	}
	return &a, nil
}

// LoadABIFile reads and parses a single ABI JSON file.
func LoadABIFile(path string) (*abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read abi %s: %w", path, err)
	}
	a, err := ParseInterface(data)
	if err != nil {
		return nil, fmt.Errorf("abi %s: %w", path, err)
	}
	return a, nil
}

// LoadABIs loads ABI JSON files from the provided directories.
func LoadABIs(dirs []string) (map[string]*abi.ABI, error) {
	abis := map[string]*abi.ABI{}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
				return nil
			}
			a, err := LoadABIFile(path)
			if err != nil {
				return err
			}
			abis[path] = a
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return abis, nil
}

// FindEvent searches loaded ABIs for an event with the given name and returns the file that
// declares it. Paths are visited in sorted order so the result does not depend on map iteration.
func FindEvent(abis map[string]*abi.ABI, eventName string) (string, *abi.Event, bool) {
	paths := make([]string, 0, len(abis))
	for p := range abis {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		if ev, err := LookupEvent(abis[p], eventName); err == nil {
			return p, ev, true
		}
	}
	return "", nil, false
}

// LookupEvent returns the event descriptor named eventName. It accepts either the ABI map key
// (which go-ethereum suffixes for overloads, e.g. Transfer0) or the declared name when that
// name is not overloaded. Anonymous and parameterless events are rejected: the former carry no
// topic0 to filter on, the latter produce tables with nothing but an identity column.
func LookupEvent(a *abi.ABI, eventName string) (*abi.Event, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: no abi provided", ErrConfig)
	}
	var found *abi.Event
	if ev, ok := a.Events[eventName]; ok {
		found = &ev
	} else {
		matches := 0
		for key := range a.Events {
			ev := a.Events[key]
			if ev.RawName == eventName {
				matches++
				found = &ev
			}
		}
		if matches > 1 {
			return nil, fmt.Errorf("%w: event %s is overloaded; use the abi key (e.g. %s0)", ErrConfig, eventName, eventName)
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: event %s not found in abi", ErrConfig, eventName)
	}
	if found.Anonymous {
		return nil, fmt.Errorf("%w: event %s is anonymous", ErrConfig, eventName)
	}
	if len(found.Inputs) == 0 {
		return nil, fmt.Errorf("%w: event %s has no parameters", ErrConfig, eventName)
	}
	return found, nil
}
