// Package inlineai implements the five on-demand text transforms exposed
// over the control protocol: rewrite, proofread, summarize, format, and
// compose, all against the same LLM provider the speech pipeline uses.
package inlineai

import "fmt"

const (
	rewriteProfessional = `Rewrite the following text in a professional, formal tone suitable for business communication.
Maintain the original meaning and key points. Only return the rewritten text, nothing else.

Text: %s`

	rewriteFriendly = `Rewrite the following text in a friendly, casual, and warm tone.
Make it conversational while maintaining the original meaning. Only return the rewritten text, nothing else.

Text: %s`

	rewriteConcise = `Rewrite the following text to be more concise and to the point.
Remove unnecessary words while preserving all key information. Only return the rewritten text, nothing else.

Text: %s`

	proofread = `Proofread the following text and correct any grammar, spelling, punctuation, or style errors.
Maintain the original meaning and tone. Only return the corrected text, nothing else.

Text: %s`

	proofreadWithChanges = `Proofread the following text and correct any grammar, spelling, punctuation, or style errors.
Return a JSON object with two fields:
1. "corrected": The corrected text
2. "changes": A list of changes made (each change should be a string describing what was fixed)

Format your response as valid JSON only, no additional text.

Text: %s`

	summaryShort = `Provide a brief one-sentence summary of the following text.
Only return the summary, nothing else.

Text: %s`

	summaryMulti = `Provide a concise summary of the following text in %d sentences.
Capture the main points and key information. Only return the summary, nothing else.

Text: %s`

	keyPointsAuto = `Extract the key points from the following text as a markdown bulleted list.
Identify 3-7 points depending on the content. Each point should be concise (one line).
Only return the bulleted list, nothing else.

Text: %s`

	keyPointsN = `Extract the %d most important key points from the following text.
Format as a markdown bulleted list. Each point should be concise (one line).
Only return the bulleted list, nothing else.

Text: %s`

	formatList = `Convert the following text into a well-organized list.
Use numbered list if the content has sequential/ordered items.
Use bulleted list if the content has unordered items.
Format as markdown. Only return the list, nothing else.

Text: %s`

	formatTable = `Convert the following information into a markdown table format.
Identify appropriate columns and rows based on the content structure.
Use proper markdown table syntax with headers and alignment.
If the content doesn't naturally fit a table format, create the best possible organization.
Only return the markdown table, nothing else.

Text: %s`

	composeWithContext = `Based on the following prompt and context, generate well-written content.
Be concise, clear, and relevant to the request. Match the tone and style to what seems appropriate.

Prompt: %s

Context:
%s

Generate the requested content (return only the content, no preamble):`

	composeWithoutContext = `Based on the following prompt, generate well-written content.
Be concise, clear, and relevant to the request. Match the tone and style to what seems appropriate.

Prompt: %s

Generate the requested content (return only the content, no preamble):`
)

// buildRewritePrompt selects the tone-specific rewrite template. An
// unknown tone falls back to professional, the safest default for a
// call-center-style assistant.
func buildRewritePrompt(text, tone string) string {
	switch tone {
	case "friendly":
		return fmt.Sprintf(rewriteFriendly, text)
	case "concise":
		return fmt.Sprintf(rewriteConcise, text)
	default:
		return fmt.Sprintf(rewriteProfessional, text)
	}
}

func buildProofreadPrompt(text string, showChanges bool) string {
	if showChanges {
		return fmt.Sprintf(proofreadWithChanges, text)
	}
	return fmt.Sprintf(proofread, text)
}

// buildSummaryPrompt uses the one-sentence template for maxSentences==1 or
// very short input, matching the source's word-count heuristic.
func buildSummaryPrompt(text string, maxSentences, wordCount int) string {
	if maxSentences == 1 || wordCount < 50 {
		return fmt.Sprintf(summaryShort, text)
	}
	return fmt.Sprintf(summaryMulti, maxSentences, text)
}

func buildKeyPointsPrompt(text string, numPoints int) string {
	if numPoints <= 0 {
		return fmt.Sprintf(keyPointsAuto, text)
	}
	return fmt.Sprintf(keyPointsN, numPoints, text)
}

func buildListPrompt(text string) string {
	return fmt.Sprintf(formatList, text)
}

func buildTablePrompt(text string) string {
	return fmt.Sprintf(formatTable, text)
}

func buildComposePrompt(prompt, context string) string {
	if context != "" {
		return fmt.Sprintf(composeWithContext, prompt, context)
	}
	return fmt.Sprintf(composeWithoutContext, prompt)
}
