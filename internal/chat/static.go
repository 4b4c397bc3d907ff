package chat

import "context"

// DefaultReply is spoken when no chat backend is configured.
const DefaultReply = "I'm here with you. If you feel unsafe, say \"help me\" and I will alert your emergency contacts."

// Static is a Processor that always answers with the same reply.
type Static struct {
	Text string
}

var _ Processor = Static{}

// Reply returns the configured reply, or DefaultReply.
func (s Static) Reply(context.Context, string, string) (string, error) {
	if s.Text == "" {
		return DefaultReply, nil
	}
	return s.Text, nil
}
