package sequencer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Encode serialises a conversation for storage.
func Encode(c *Conversation) ([]byte, error) {
	if c == nil {
		return nil, errors.New("sequencer: encode nil conversation")
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("sequencer: encode: %w", err)
	}
	return b, nil
}

// Decode restores a conversation produced by Encode.
func Decode(data []byte) (*Conversation, error) {
	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("sequencer: decode: %w", err)
	}
	if c.ID == "" {
		return nil, errors.New("sequencer: decode: missing id")
	}
	if len(c.Messages) == 0 {
		return nil, errors.New("sequencer: decode: conversation has no messages")
	}
	sort.SliceStable(c.Pending, func(i, j int) bool {
		return c.Pending[i].Due.Before(c.Pending[j].Due)
	})
	return &c, nil
}
