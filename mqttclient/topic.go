package mqttclient

import (
	stderrors "errors"
	"fmt"
	"strings"
)

const (
	levelSeparator  = "/"
	singleLevelWild = "+"
	multiLevelWild  = "#"
)

// ValidateFilter checks an MQTT topic filter for syntactic validity.
// The '+' wildcard must occupy a whole level and '#' must occupy the
// final level alone.
func ValidateFilter(filter string) error {
	if filter == "" {
		return stderrors.New("topic filter is empty")
	}
	if strings.ContainsRune(filter, 0) {
		return stderrors.New("topic filter contains NUL character")
	}

	levels := strings.Split(filter, levelSeparator)
	for i, level := range levels {
		if strings.Contains(level, multiLevelWild) {
			if level != multiLevelWild {
				return fmt.Errorf("'#' must occupy a whole level in filter %q", filter)
			}
			if i != len(levels)-1 {
				return fmt.Errorf("'#' only allowed at the final level in filter %q", filter)
			}
		}
		if strings.Contains(level, singleLevelWild) && level != singleLevelWild {
			return fmt.Errorf("'+' must occupy a whole level in filter %q", filter)
		}
	}

	return nil
}

// ValidateTopic checks a concrete publish topic. Wildcard characters
// are reserved for subscription filters and rejected here.
func ValidateTopic(topic string) error {
	if topic == "" {
		return stderrors.New("topic is empty")
	}
	if strings.ContainsRune(topic, 0) {
		return stderrors.New("topic contains NUL character")
	}
	if strings.ContainsAny(topic, singleLevelWild+multiLevelWild) {
		return fmt.Errorf("topic %q contains wildcard characters", topic)
	}
	return nil
}

// MatchTopic reports whether a concrete topic matches a filter under
// MQTT wildcard rules: '+' matches exactly one level, '#' matches any
// number of trailing levels including none. Filters beginning with a
// wildcard never match topics beginning with '$' (broker internals
// such as $SYS).
func MatchTopic(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if strings.HasPrefix(topic, "$") &&
		(strings.HasPrefix(filter, singleLevelWild) || strings.HasPrefix(filter, multiLevelWild)) {
		return false
	}

	filterLevels := strings.Split(filter, levelSeparator)
	topicLevels := strings.Split(topic, levelSeparator)

	for i, level := range filterLevels {
		if level == multiLevelWild {
			// '#' also matches the parent level itself, so
			// "sensors/#" matches "sensors".
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level == singleLevelWild {
			continue
		}
		if level != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}
