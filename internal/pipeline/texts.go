// ABOUTME: Canned reply texts used by the pipeline stages
// ABOUTME: Deployment-specific wording belongs in config; these are the fallbacks

package pipeline

const (
	defaultSystemPrompt = "You are a friendly sales consultant for a residential development. " +
		"Answer briefly and concretely, in the language the customer writes in. " +
		"Only state facts present in the knowledge section. If you do not know, say so."

	textApology = "Sorry, something went wrong on our side. A colleague will pick this up shortly."

	textFallback = "I'm having trouble answering right now. Let me connect you with a colleague who can help."

	textOffHours = "Thanks for reaching out! Our office is closed at the moment. " +
		"We'll reply first thing when we're back."

	textGreetingFull = "Hello and welcome! I'm the assistant for our residential project. " +
		"I can help with availability, prices, layouts and viewings. What can I do for you?"

	textGreetingShort = "Good to hear from you again!"

	textBotDenial = "I'm a real part of the team here to help you with our apartments. What would you like to know?"

	textOperatorAck = "Of course, I understand."

	textOperatorOffer = "Would you like me to connect you with one of our managers? They can call you back or continue right here."

	textOperatorTransfer = "One moment, I'm connecting you with a manager. They'll join this chat shortly."

	textContactAck = "Thanks for reaching out! A colleague will get back to you about this shortly."

	textProfanityDeflect = "I want to keep this helpful, so I'll hand you over to one of our managers."

	textOffTopicClarify = "I may have misread you - are you asking about our apartments?"

	textOffTopicRefuse = "I can only help with questions about our residential project, sorry."

	textOffTopicTransfer = "Let me hand you over to a colleague who can help you better."

	textInPerson = "That's best discussed with a manager in person or on a call - the details depend on your situation. " +
		"Shall I arrange a viewing or a call-back?"

	textEscalateHandover = "Let me bring in a manager on this one - they'll follow up with you right here."
)

// escalationPhrases are generated-text markers that imply the assistant
// promised human follow-up; policy then requires an actual handoff.
var escalationPhrases = []string{
	"get back to you",
	"transfer you",
	"connect you with",
	"check with my colleagues",
	"a manager will contact",
	"i'll find out and",
}

// forbiddenPhrases never survive post-processing.
var forbiddenPhrases = []string{
	"as an ai",
	"as a language model",
	"as an artificial intelligence",
	"i am an ai",
	"i'm an ai",
}
