package assembler

import (
	"fmt"
	"strings"
)

const (
	// telegramMaxMessageLength is the transport's message size limit.
	telegramMaxMessageLength = 4096
	// partReserve leaves room for the "(i/n)" suffix appended when a
	// digest splits across more than one message.
	partReserve       = 16
	blockSeparator    = "\n\n"
)

// splitIntoMessages packs blocks into transport-sized messages, splitting
// only at block boundaries unless a single block itself exceeds the
// limit, in which case it is broken line by line as a last resort.
func splitIntoMessages(blocks []string) []string {
	if len(blocks) == 0 {
		return nil
	}

	var messages []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			messages = append(messages, current.String())
			current.Reset()
		}
	}

	for _, block := range blocks {
		withSep := block
		if current.Len() > 0 {
			withSep = blockSeparator + block
		}

		if current.Len()+len(withSep)+partReserve <= telegramMaxMessageLength {
			current.WriteString(withSep)
			continue
		}

		flush()

		if len(block)+partReserve <= telegramMaxMessageLength {
			current.WriteString(block)
			continue
		}

		// Even a lone block overflows the limit; break it line by line.
		for _, line := range strings.Split(block, "\n") {
			lineWithNewline := line + "\n"
			if current.Len()+len(lineWithNewline)+partReserve > telegramMaxMessageLength && current.Len() > 0 {
				messages = append(messages, strings.TrimSuffix(current.String(), "\n"))
				current.Reset()
			}
			current.WriteString(lineWithNewline)
		}
	}
	flush()

	if len(messages) <= 1 {
		return messages
	}

	total := len(messages)
	numbered := make([]string, total)
	for i, msg := range messages {
		numbered[i] = fmt.Sprintf("%s (%d/%d)", msg, i+1, total)
	}
	return numbered
}
