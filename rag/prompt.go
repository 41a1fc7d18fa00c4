package rag

import (
	"fmt"
	"strings"

	"github.com/poiesic/docrag/core"
)

// Fixed replies.
const (
	NoContextAnswer = "I cannot find any relevant information in the uploaded document to answer your question. " +
		"The document may not have been processed yet or may not contain information related to your query."

	EmptyAnswer = "I apologize, but I couldn't generate a proper response. Please try rephrasing your question."

	ErrorAnswer = "I apologize, but I encountered an error while processing your question. Please try again."

	answerInstruction = "Please provide a helpful answer based on the document context above. " +
		"If the information is not in the context, clearly state that you cannot find it in the uploaded document."
)

// buildContext renders retrieved points in rank order.
func buildContext(points []core.ScoredPoint) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf("[Context %d - Relevance: %.2f]\n%s", i+1, p.Score, p.Payload.Text)
	}
	return strings.Join(parts, "\n\n")
}

// formatHistory renders at most limit of the newest turns, oldest first.
func formatHistory(turns []*core.ChatTurn, limit int) string {
	if limit <= 0 || len(turns) == 0 {
		return ""
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		role := "Assistant"
		if t.Role == core.RoleUser {
			role = "Human"
		}
		lines = append(lines, role+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

func buildPrompt(question, context, history string) string {
	parts := make([]string, 0, 4)
	if history != "" {
		parts = append(parts, "Previous conversation:\n"+history)
	}
	parts = append(parts,
		"Document Context:\n"+context,
		"Human Question: "+question,
		answerInstruction,
	)
	return strings.Join(parts, "\n\n")
}

// sourceLabels returns one human-readable citation per retrieved point.
func sourceLabels(points []core.ScoredPoint) []string {
	labels := make([]string, len(points))
	for i, p := range points {
		labels[i] = fmt.Sprintf("Document section (chunk %d) - Relevance: %.1f%%", p.Payload.ChunkIndex+1, p.Score*100)
	}
	return labels
}
