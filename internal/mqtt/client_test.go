package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestControlCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/control/control_state/set"
	r := controlCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "control_state", "control id extract")
}

func TestControlCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/control/control_state/state"
	r := controlCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestControlCommandParseOtherBase(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "otherTopic/control/control_state/set"
	r := controlCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}
