package flows

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/logger"
)

// stepConfig is the on-disk shape of one [[steps]] table in a flow's
// `.toml` definition.
type stepConfig struct {
	Script           string   `toml:"script"`
	ConfigTopics     []string `toml:"config_topics"`
	TickEverySeconds uint64   `toml:"tick_every_seconds"`
}

// flowConfig is the on-disk shape of a flow `.toml` definition.
type flowConfig struct {
	InputTopics []string     `toml:"input_topics"`
	Steps       []stepConfig `toml:"steps"`
}

// LoadFlow reads a flow definition at path (a `.toml` file) and the JS
// source of every step it references, relative to path's directory.
func LoadFlow(path string) (*Flow, error) {
	var cfg flowConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.Script("failed to decode flow definition "+path, err)
	}

	dir := filepath.Dir(path)
	flow := &Flow{
		Source:      path,
		InputTopics: NewTopicFilter(cfg.InputTopics...),
	}

	for _, sc := range cfg.Steps {
		scriptPath := sc.Script
		if !filepath.IsAbs(scriptPath) {
			scriptPath = filepath.Join(dir, scriptPath)
		}
		script, err := loadScriptFile(scriptPath)
		if err != nil {
			return nil, err
		}
		script.TickEverySeconds = fixTickEverySeconds(script, sc.TickEverySeconds)
		warnIfHandlersMissing(path, script, sc)

		flow.Steps = append(flow.Steps, &FlowStep{
			Script:       script,
			ConfigTopics: NewTopicFilter(sc.ConfigTopics...),
		})
	}

	return flow, nil
}

// ReloadScript re-reads and recompiles the script at scriptPath, replacing
// it wherever it's referenced in flow's steps and resetting its
// incremental (sandboxed) state, per spec §4.4: "`.js`/`.ts`/`.mjs` edits
// reload a single script and reset its incremental state".
func ReloadScript(flow *Flow, scriptPath string) error {
	newScript, err := loadScriptFile(scriptPath)
	if err != nil {
		return err
	}
	for _, step := range flow.Steps {
		if step.Script.Path() == scriptPath {
			newScript.TickEverySeconds = step.Script.TickEverySeconds
			step.Script = newScript
		}
	}
	return nil
}

func loadScriptFile(path string) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Script("failed to read script "+path, err)
	}
	return LoadScript(path, string(src))
}

// fixTickEverySeconds mirrors flow.rs's FlowStep::fix: a script that
// defines onInterval but was configured with tick_every_seconds == 0
// defaults to ticking every second, since 0 would mean "never".
func fixTickEverySeconds(script *Script, configured uint64) uint64 {
	if script.HasOnInterval() && configured == 0 {
		return 1
	}
	return configured
}

// warnIfHandlersMissing mirrors flow.rs's FlowStep::check warnings.
func warnIfHandlersMissing(flowPath string, script *Script, sc stepConfig) {
	if !script.HasOnMessage() {
		logger.L().Warn("flow script with no onMessage function", "script", script.Path())
	}
	if !script.HasOnConfigUpdate() && len(sc.ConfigTopics) > 0 {
		logger.L().Warn("flow script with no onConfigUpdate function but config_topics is set",
			"script", script.Path(), "flow", flowPath)
	}
	if !script.HasOnInterval() && sc.TickEverySeconds != 0 {
		logger.L().Warn("flow script with no onInterval function but tick_every_seconds is set",
			"script", script.Path(), "flow", flowPath)
	}
}

// IsFlowDefinition reports whether path names a flow definition file.
func IsFlowDefinition(path string) bool {
	return strings.HasSuffix(path, ".toml")
}

// IsScriptFile reports whether path names a step script file.
func IsScriptFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".js" || ext == ".ts" || ext == ".mjs"
}
