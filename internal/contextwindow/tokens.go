package contextwindow

import "github.com/harunnryd/cosmo/internal/model/contract"

// EstimateTokens approximates tokens as ceil(bytes/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateMessageTokens counts content, tool calls and attachments.
func EstimateMessageTokens(msg contract.Message) int {
	total := EstimateTokens(msg.Content)
	for _, call := range msg.ToolCalls {
		total += EstimateTokens(call.ID)
		total += EstimateTokens(call.Name)
		total += EstimateTokens(string(call.Parameters))
	}
	for _, att := range msg.Attachments {
		total += EstimateTokens(att.FilePath)
		total += EstimateTokens(att.FileName)
		total += EstimateTokens(att.MimeType)
		total += EstimateTokens(att.Content)
	}
	return total
}

func EstimateMessagesTokens(messages []contract.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessageTokens(msg)
	}
	return total
}
