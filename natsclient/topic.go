package natsclient

import "strings"

var (
	subjectReplacer = strings.NewReplacer("/", ".", "+", "*", "#", ">")
	topicReplacer   = strings.NewReplacer(".", "/")
)

// SubjectFor maps a slash separated topic or pattern onto a NATS subject.
// "+" matches one level and "#" the remaining levels, like "*" and ">".
func SubjectFor(topic string) string {
	return subjectReplacer.Replace(topic)
}

// TopicFor maps a concrete NATS subject back to its slash form.
func TopicFor(subject string) string {
	return topicReplacer.Replace(subject)
}
