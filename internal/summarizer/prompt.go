package summarizer

import (
	"fmt"
	"strings"
	"time"
)

// Categories is the closed set of recap classification tags. It is passed
// into every summarization call as a hard constraint; "other" is the
// last-resort bucket.
var Categories = []string{
	"personal", "education", "health", "finance", "legal", "philosophy",
	"spiritual", "science", "entrepreneurship", "parenting", "romantic",
	"travel", "inspiration", "technology", "business", "social", "work",
	"sports", "other",
}

// insufficientContextSentinel is the headline the prompt contract requires
// the model to emit when the fragments are too thin to summarize.
const insufficientContextSentinel = "INSUFFICIENT_CONTEXT"

const recapPromptTemplate = `Current date and time: %s

Analyze the provided conversation fragments and create a concise summary.
Focus on the main topic, participants, and key points. These could be parts
of discussions between family members, personal monologues, or work-related
conversations.

Categories for classification:
<categories>
%s
</categories>

Conversation fragments:
<conversation_fragments>
%s
</conversation_fragments>

Create your summary as follows:

1. Choose an appropriate emoji that represents the overall theme or tone of the conversation.
2. Write a brief, catchy headline (5-10 words) that encapsulates the main topic. Use headline capitalization.
3. Identify key points from the conversation, using bullet points for each. Include as many bullet points as necessary to capture the full context.
4. Report the information exactly as it appears in the conversation, even if it seems incorrect or implausible. Do not analyze or correct it.
5. Highlight important details such as names of people or places, book titles, or specific claims made in the conversation.
6. Always include facts, metrics, and KPIs stated in the fragments, exactly as they appear.
7. Classify the content into one of the categories provided above, choosing the one that best fits the overall theme.
8. Ignore random out-of-context remarks (turning on lights, telling a dog to go potty) that add no value to the summary.
9. If there is insufficient context, set the headline to "INSUFFICIENT_CONTEXT". This should happen very rarely.

Respond with JSON in exactly this shape:

{
    "headline": "[Emoji] [Your headline here]",
    "bullet_points": [
        "[Key point 1]",
        "[Key point 2]"
    ],
    "tag": "[category]"
}

If there is insufficient context, respond with:

{
    "headline": "INSUFFICIENT_CONTEXT",
    "bullet_points": [],
    "tag": null
}`

const factCheckPromptTemplate = `Current date and time: %s

Review the conversation fragments and identify any clear, unambiguous
factual errors. Focus only on statements that can be definitively proven
false.

Conversation fragments:
<conversation_fragments>
%s
</conversation_fragments>

For each factual error:
1. State the incorrect claim briefly.
2. Provide a short, direct correction.
3. Format as: "Incorrect: [brief incorrect claim]. Fact: [concise correction]."

Respond with JSON in exactly this shape:

{
    "fact_checks": [
        "Incorrect: [brief incorrect claim]. Fact: [concise correction]"
    ]
}

If no factual errors are found, return:

{
    "fact_checks": []
}`

func recapPrompt(text string, now time.Time) string {
	var categories strings.Builder
	for _, c := range Categories {
		fmt.Fprintf(&categories, "- %s\n", c)
	}
	return fmt.Sprintf(recapPromptTemplate, now.Format("2006-01-02 15:04:05 MST"), strings.TrimRight(categories.String(), "\n"), text)
}

func factCheckPrompt(text string, now time.Time) string {
	return fmt.Sprintf(factCheckPromptTemplate, now.Format("2006-01-02 15:04:05 MST"), text)
}

// validTag reports whether tag is one of the fixed categories.
func validTag(tag string) bool {
	for _, c := range Categories {
		if tag == c {
			return true
		}
	}
	return false
}
