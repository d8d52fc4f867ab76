package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(chunks ...string) (string, []string) {
	var got []string
	s := newNarrativeStream(func(t string) { got = append(got, t) })
	for _, c := range chunks {
		s.Write(c)
	}
	s.Close()
	return strings.Join(got, ""), got
}

func TestNarrativeStream(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{"no separator", []string{"The door ", "creaks open."}, "The door creaks open."},
		{"separator in one chunk", []string{"Open.\n---\nday: 2\n"}, "Open.\n"},
		{"separator split", []string{"Open.\n-", "-", "-\nday: 2"}, "Open.\n"},
		{"separator at end of stream", []string{"Open.\n---"}, "Open.\n"},
		{"separator with spaces", []string{"Open.\n  ---  \nday: 2"}, "Open.\n"},
		{"longer rule is prose", []string{"Open.\n----\nMore."}, "Open.\n----\nMore."},
		{"dash prefix is prose", []string{"Open.\n--", " wait\nMore."}, "Open.\n-- wait\nMore."},
		{"held dashes then newline", []string{"A\n--\nB"}, "A\n--\nB"},
		{"blank lines", []string{"A\n\n", "\nB"}, "A\n\n\nB"},
		{"windows newlines", []string{"A\r\n---\r\nday: 1"}, "A\r\n"},
		{"text after separator ignored", []string{"A\n---\n", "B\n", "C"}, "A\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := collect(tt.chunks...)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Every way of cutting a response in two must forward the same narrative.
func TestNarrativeStreamAnySplit(t *testing.T) {
	response := "You push.\nThe door -- old oak -- creaks open.\n\n---\nday: 1\noptions:\n  - Enter\n"
	want := "You push.\nThe door -- old oak -- creaks open.\n\n"
	for i := 0; i <= len(response); i++ {
		for j := i; j <= len(response); j += 7 {
			got, _ := collect(response[:i], response[i:j], response[j:])
			assert.Equal(t, want, got, "split at %d,%d", i, j)
		}
	}
}

func TestNarrativeStreamForwardsEagerly(t *testing.T) {
	_, pieces := collect("Hello ", "world")
	assert.Equal(t, []string{"Hello ", "world"}, pieces)
}
