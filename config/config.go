// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package config parses RACE universe configuration files (spec §6): a
// YAML document describing actors, their channel bindings, timeouts, and
// failure policy, with HOCON-style "${var}" substitution and "include"
// directive resolution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/race-rt/race/raceerr"
)

// maxIncludeDepth bounds transitive "include" resolution (spec §6 "include
// cycles and excessive nesting are rejected, depth limit 8").
const maxIncludeDepth = 8

// Duration wraps time.Duration so config files can write either Go duration
// syntax ("5s") or a bare integer count of milliseconds (spec §6's example
// config files use plain numbers for timeouts); yaml.v3 has no built-in
// decoding for time.Duration, so this type supplies its own UnmarshalYAML
// backed by ParseDuration.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler (yaml.v3 node form) so a scalar
// config value decodes through ParseDuration regardless of which of the two
// accepted spellings it used.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected a scalar duration, got %v", value.Kind)
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// ActorConfig is one actor entry in the universe file (spec §6 "actor
// spec"): name, implementing class, channel bindings, timeouts, and
// failure policy.
type ActorConfig struct {
	Name             string            `yaml:"name"`
	Class            string            `yaml:"class"`
	ReadFrom         []string          `yaml:"read-from"`
	WriteTo          []string          `yaml:"write-to"`
	DependsOn        []string          `yaml:"depends-on"`
	Remote           string            `yaml:"remote"`
	MailboxCapacity  int               `yaml:"mailbox-capacity"`
	Overflow         string            `yaml:"overflow"`
	PausePolicy      string            `yaml:"pause-policy"`
	InitTimeout      Duration          `yaml:"init-timeout"`
	StartTimeout     Duration          `yaml:"start-timeout"`
	TerminateTimeout Duration          `yaml:"terminate-timeout"`
	FailurePolicy    string            `yaml:"failure-policy"`
	FailureThreshold int               `yaml:"failure-threshold"`
	Params           map[string]string `yaml:"params"`
}

// ClockConfig configures the logical clock at startup (spec §6).
type ClockConfig struct {
	StartTime string  `yaml:"start-time"`
	TimeScale float64 `yaml:"time-scale"`
}

// PeerConfig is one statically configured outbound peer (spec §4.6). A bare
// string in the config file is sugar for {address: <string>}, required by
// default: "if the peer is required (not optional), the Master terminates
// the graph" reads most naturally as opt-in optionality, not opt-in rigor.
type PeerConfig struct {
	Address  string `yaml:"address"`
	Optional bool   `yaml:"optional"`
}

// UnmarshalYAML accepts either a bare address string or a full
// {address, optional} mapping.
func (p *PeerConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Address = value.Value
		return nil
	}
	type plain PeerConfig
	var pc plain
	if err := value.Decode(&pc); err != nil {
		return err
	}
	*p = PeerConfig(pc)
	return nil
}

// NodeConfig configures remote federation for this universe (spec §6, §4.6).
// MaxClockDiff bounds the clock skew tolerated from a peer before its
// handshake or clock sync is rejected (spec §9: "the source exposes
// max-clock-diff but default is not consistently set ... a required
// configuration value with no implicit default") — race refuses to start
// federation (port or peers configured) without it set.
type NodeConfig struct {
	ID           string       `yaml:"id"`
	Port         int          `yaml:"port"`
	Peers        []PeerConfig `yaml:"peers"`
	MaxClockDiff Duration     `yaml:"max-clock-diff"`
}

// Universe is the top-level parsed configuration document (spec §6).
type Universe struct {
	Include []string          `yaml:"include"`
	Vars    map[string]string `yaml:"vars"`
	Clock   ClockConfig       `yaml:"clock"`
	Node    NodeConfig        `yaml:"node"`
	Actors  []ActorConfig     `yaml:"actors"`
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

// Load reads and fully resolves path with no CLI "${var}" overrides; see
// LoadWithOverrides.
func Load(path string) (*Universe, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load plus a table of substitution values that take
// priority over both the document's own "vars" section and the process
// environment (spec §6 "-D<key>=<value> (config substitution)"). It expands
// "include" directives (depth-limited, cycle-checked), merges the resulting
// documents section by section (included files supply defaults, the including
// file's keys win, "actors" lists are concatenated in include-then-self
// order), applies "${var}" substitution, and decodes the result into a
// Universe.
func LoadWithOverrides(path string, overrides map[string]string) (*Universe, error) {
	merged, err := loadIncludeTree(path, 0, make(map[string]bool))
	if err != nil {
		return nil, err
	}

	expanded, err := substituteVars(merged, overrides)
	if err != nil {
		return nil, err
	}

	reencoded, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, raceerr.Wrap(raceerr.KindConfiguration, "", err)
	}

	var u Universe
	if err := yaml.Unmarshal(reencoded, &u); err != nil {
		return nil, raceerr.New(raceerr.KindConfiguration, "", "failed to parse %s: %v", path, err)
	}
	for i := range u.Actors {
		applyActorDefaults(&u.Actors[i])
	}
	return &u, nil
}

// loadIncludeTree reads path and recursively merges any "include" list's
// documents underneath it, returning the merged document as a generic map.
func loadIncludeTree(path string, depth int, visited map[string]bool) (map[string]interface{}, error) {
	if depth > maxIncludeDepth {
		return nil, raceerr.New(raceerr.KindConfiguration, "", "include depth exceeds %d while loading %s", maxIncludeDepth, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, raceerr.Wrap(raceerr.KindConfiguration, "", err)
	}
	if visited[abs] {
		return nil, raceerr.New(raceerr.KindConfiguration, "", "include cycle detected at %s", path)
	}
	visited[abs] = true

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, raceerr.Wrap(raceerr.KindConfiguration, "", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, raceerr.New(raceerr.KindConfiguration, "", "failed to parse %s: %v", path, err)
	}

	rawIncludes, _ := doc["include"].([]interface{})
	if len(rawIncludes) == 0 {
		return doc, nil
	}

	dir := filepath.Dir(abs)
	merged := map[string]interface{}{}
	for _, inc := range rawIncludes {
		incPath, ok := inc.(string)
		if !ok {
			continue
		}
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(dir, incPath)
		}
		sub, err := loadIncludeTree(incPath, depth+1, visited)
		if err != nil {
			return nil, err
		}
		merged = mergeDocs(merged, sub)
	}
	return mergeDocs(merged, doc), nil
}

// mergeDocs merges override on top of base: "actors" concatenates
// (base entries first), "vars" and other maps merge key-by-key with
// override winning, everything else is a plain override.
func mergeDocs(base, override map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		switch k {
		case "actors":
			baseList, _ := base["actors"].([]interface{})
			overrideList, _ := v.([]interface{})
			out["actors"] = append(append([]interface{}{}, baseList...), overrideList...)
		case "vars":
			baseMap, _ := base["vars"].(map[string]interface{})
			overrideMap, _ := v.(map[string]interface{})
			merged := map[string]interface{}{}
			for mk, mv := range baseMap {
				merged[mk] = mv
			}
			for mk, mv := range overrideMap {
				merged[mk] = mv
			}
			out["vars"] = merged
		default:
			baseMap, baseIsMap := base[k].(map[string]interface{})
			overrideMap, overrideIsMap := v.(map[string]interface{})
			if !baseIsMap || !overrideIsMap {
				out[k] = v
				continue
			}
			merged := map[string]interface{}{}
			for mk, mv := range baseMap {
				merged[mk] = mv
			}
			for mk, mv := range overrideMap {
				merged[mk] = mv
			}
			out[k] = merged
		}
	}
	return out
}

// substituteVars walks doc replacing every "${name}" occurrence in string
// values with, in priority order: an entry in overrides (CLI "-D" flags),
// the document's own "vars" map, or the OS environment, per spec §6's
// HOCON-style substitution grammar.
func substituteVars(doc map[string]interface{}, overrides map[string]string) (map[string]interface{}, error) {
	vars := map[string]string{}
	if rawVars, ok := doc["vars"].(map[string]interface{}); ok {
		for k, v := range rawVars {
			vars[k] = fmt.Sprint(v)
		}
	}

	var missing []string
	lookup := func(name string) (string, bool) {
		if v, ok := overrides[name]; ok {
			return v, true
		}
		if v, ok := vars[name]; ok {
			return v, true
		}
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		missing = append(missing, name)
		return "", false
	}
	resolve := func(s string) string {
		return varPattern.ReplaceAllStringFunc(s, func(match string) string {
			name := varPattern.FindStringSubmatch(match)[1]
			v, _ := lookup(name)
			return v
		})
	}

	var walk func(v interface{}) interface{}
	walk = func(v interface{}) interface{} {
		switch t := v.(type) {
		case string:
			// A string that is exactly one "${var}" reference substitutes
			// with a typed scalar (int/float/bool/string), matching the
			// value's declared type in vars rather than always coercing to
			// a quoted string (spec §6 substitution grammar).
			if sub := varPattern.FindStringSubmatch(t); sub != nil && sub[0] == t {
				v, _ := lookup(sub[1])
				return typedScalar(v)
			}
			return resolve(t)
		case map[string]interface{}:
			for k, vv := range t {
				t[k] = walk(vv)
			}
			return t
		case []interface{}:
			for i, vv := range t {
				t[i] = walk(vv)
			}
			return t
		default:
			return v
		}
	}

	resolved := walk(doc).(map[string]interface{})
	if len(missing) > 0 {
		return nil, raceerr.New(raceerr.KindConfiguration, "", "undefined substitution variable(s): %v", missing)
	}
	return resolved, nil
}

// typedScalar converts a substituted variable's string value to the
// narrowest YAML scalar type it can parse as, so e.g. a numeric "vars"
// entry substituted whole into a numeric field round-trips correctly.
func typedScalar(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func applyActorDefaults(a *ActorConfig) {
	if a.Overflow == "" {
		a.Overflow = "drop-newest"
	}
	if a.PausePolicy == "" {
		a.PausePolicy = "buffer"
	}
	if a.FailurePolicy == "" {
		a.FailurePolicy = "critical"
	}
}

// ParseDuration is a config-grammar-aware duration parser accepting both Go
// duration syntax ("5s") and bare integers, interpreted as milliseconds,
// since the spec's example config files write plain numbers for timeouts.
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}
