package loop

import (
	"regexp"
	"sort"

	"github.com/taskforge/engine/config"
)

// matchSkillTrigger returns the first configured trigger (by name, sorted
// for determinism since config.Skills is a map) whose pattern matches task.
func matchSkillTrigger(skills map[string]config.SkillTrigger, task string) (string, config.SkillTrigger, bool) {
	if len(skills) == 0 {
		return "", config.SkillTrigger{}, false
	}

	names := make([]string, 0, len(skills))
	for name := range skills {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		trigger := skills[name]
		re, err := regexp.Compile(trigger.Pattern)
		if err != nil {
			continue // malformed trigger pattern, skip rather than fail the task
		}
		if re.MatchString(task) {
			return name, trigger, true
		}
	}
	return "", config.SkillTrigger{}, false
}
