package domain

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed regions.yaml
var regionsYAML []byte

type regionTable struct {
	Abbreviations map[string]string   `yaml:"abbreviations"`
	Regions       map[string][]string `yaml:"regions"`
}

var (
	stateNames    map[string]string // abbreviation -> full name
	stateToRegion map[string]string // full name -> census region
)

func init() {
	var rt regionTable
	if err := yaml.Unmarshal(regionsYAML, &rt); err != nil {
		panic(fmt.Sprintf("domain: decode embedded regions.yaml: %v", err))
	}
	stateNames = rt.Abbreviations
	stateToRegion = make(map[string]string)
	for region, states := range rt.Regions {
		for _, s := range states {
			stateToRegion[s] = region
		}
	}
}

// ExpandStateName maps a two-letter abbreviation to the full state name.
// Anything else is returned trimmed but otherwise unchanged.
func ExpandStateName(state string) string {
	state = strings.TrimSpace(state)
	if full, ok := stateNames[strings.ToUpper(state)]; ok {
		return full
	}
	return state
}

// RegionForState returns the census region of a full state name.
func RegionForState(state string) (string, bool) {
	r, ok := stateToRegion[state]
	return r, ok
}
