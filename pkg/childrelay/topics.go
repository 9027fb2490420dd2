package childrelay

import (
	"strings"

	"github.com/thin-edge/tedge-core/pkg/errors"
)

// RequestTopic builds the topic the relay publishes an operation request on
// (spec §4.7: `te/<child>/commands/req/<op>`).
func RequestTopic(root, childID, operation string) string {
	return strings.TrimSuffix(root, "/") + "/" + childID + "/commands/req/" + operation
}

// ResponseTopic builds the topic a child publishes its response on.
func ResponseTopic(root, childID, operation string) string {
	return strings.TrimSuffix(root, "/") + "/" + childID + "/commands/res/" + operation
}

// ParseResponseTopic extracts the child id and operation name from a
// response topic (`<root>/<child>/commands/res/<op>`), grounded on
// message.rs's get_child_id_from_child_topic: "the second element is the
// child id".
func ParseResponseTopic(root, topic string) (childID, operation string, err error) {
	prefix := strings.TrimSuffix(root, "/") + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", "", errors.Protocol("response topic does not match root prefix "+root, nil)
	}
	rest := strings.TrimPrefix(topic, prefix)
	segs := strings.Split(rest, "/")
	if len(segs) != 4 || segs[1] != "commands" || segs[2] != "res" {
		return "", "", errors.Protocol("malformed child response topic: "+topic, nil)
	}
	return segs[0], segs[3], nil
}
