package protocol

import (
	"encoding/json"
	"strings"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
)

// channelsSuffix follows the kernel id in every frame preamble.
const channelsSuffix = "/channels,"

// Codec frames envelopes for one kernel. Payloads in both directions are
// "<kernelId>/channels," followed by the JSON envelope.
type Codec struct {
	prefix string
}

// NewCodec returns the codec for kernelID.
func NewCodec(kernelID string) Codec {
	return Codec{prefix: kernelID + channelsSuffix}
}

// Prefix returns the fixed preamble.
func (c Codec) Prefix() string { return c.prefix }

// Encode frames an outbound envelope.
func (c Codec) Encode(env Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", sageerrors.Wrap(err, sageerrors.ErrCodeInternal, "encode envelope")
	}
	return c.prefix + string(data), nil
}

// Payload strips the preamble from an inbound frame. The expected preamble
// is a constant offset; frames routed under another channel name are cut at
// their first comma.
func (c Codec) Payload(raw string) (string, error) {
	if c.prefix != "" && strings.HasPrefix(raw, c.prefix) {
		if rest := raw[len(c.prefix):]; strings.HasPrefix(rest, "{") {
			return rest, nil
		}
		return "", malformedFrame(raw)
	}
	brace := strings.IndexByte(raw, '{')
	if brace == 0 {
		return raw, nil
	}
	comma := strings.IndexByte(raw, ',')
	if comma >= 0 && (brace < 0 || comma < brace) {
		rest := raw[comma+1:]
		if strings.HasPrefix(strings.TrimSpace(rest), "{") {
			return rest, nil
		}
	}
	return "", malformedFrame(raw)
}

func malformedFrame(raw string) error {
	return sageerrors.New(sageerrors.ErrCodeMalformedEnvelope, "frame has no JSON payload").
		WithContext("frame_len", len(raw))
}

// Decode strips the preamble and decodes the envelope.
func (c Codec) Decode(raw string) (Message, error) {
	payload, err := c.Payload(raw)
	if err != nil {
		return nil, err
	}
	return Decode([]byte(payload))
}
