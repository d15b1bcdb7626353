// ABOUTME: Pluggable rule sets for text classification used by the decision pipeline
// ABOUTME: Rule lexicons are loaded from TOML so deployments can swap them without code changes

package rules

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Matcher reports whether a piece of user text matches a rule.
type Matcher interface {
	Match(text string) bool
}

// ContactClass is a coarse classification of who is writing.
type ContactClass string

const (
	ContactClient   ContactClass = "client"
	ContactBroker   ContactClass = "broker"
	ContactResident ContactClass = "resident"
	ContactSupplier ContactClass = "supplier"
	ContactSpam     ContactClass = "spam"
)

// ContactRule maps keyword evidence to a contact class.
type ContactRule struct {
	Class    string   `toml:"class"`
	Keywords []string `toml:"keywords"`
	Escalate bool     `toml:"escalate"`
}

// TopicRules decides whether a question is on-topic and whether it is
// better discussed in person than answered by text.
type TopicRules struct {
	Relevant []string `toml:"relevant"`
	InPerson []string `toml:"in_person"`
}

// Set bundles every lexicon the pipeline consumes.
type Set struct {
	Greetings       []string      `toml:"greetings"`
	Profanity       []string      `toml:"profanity"`
	OperatorRequest []string      `toml:"operator_request"`
	BotQuestion     []string      `toml:"bot_question"`
	Confirmation    []string      `toml:"confirmation"`
	Contacts        []ContactRule `toml:"contacts"`
	Topic           TopicRules    `toml:"topic"`
}

// Load reads a rule set from a TOML file. Missing sections fall back to
// the built-in defaults so a partial file is valid.
func Load(path string) (*Set, error) {
	set := DefaultSet()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var loaded Set
	if err := toml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}

	if len(loaded.Greetings) > 0 {
		set.Greetings = loaded.Greetings
	}
	if len(loaded.Profanity) > 0 {
		set.Profanity = loaded.Profanity
	}
	if len(loaded.OperatorRequest) > 0 {
		set.OperatorRequest = loaded.OperatorRequest
	}
	if len(loaded.BotQuestion) > 0 {
		set.BotQuestion = loaded.BotQuestion
	}
	if len(loaded.Confirmation) > 0 {
		set.Confirmation = loaded.Confirmation
	}
	if len(loaded.Contacts) > 0 {
		set.Contacts = loaded.Contacts
	}
	if len(loaded.Topic.Relevant) > 0 {
		set.Topic.Relevant = loaded.Topic.Relevant
	}
	if len(loaded.Topic.InPerson) > 0 {
		set.Topic.InPerson = loaded.Topic.InPerson
	}

	return set, nil
}

// DefaultSet returns the built-in English lexicons. Deployments normally
// replace these wholesale via the TOML file.
func DefaultSet() *Set {
	return &Set{
		Greetings: []string{
			"hi", "hello", "hey", "good morning", "good afternoon",
			"good evening", "greetings", "hi there", "hello there",
		},
		Profanity: []string{
			"damn you", "screw you", "idiot", "stupid bot", "moron",
		},
		OperatorRequest: []string{
			"talk to a human", "speak to a human", "real person",
			"talk to someone", "operator", "live agent", "human agent",
			"connect me with", "speak with a manager",
		},
		BotQuestion: []string{
			"are you a bot", "are you a robot", "am i talking to a bot",
			"is this a bot", "are you real", "are you human", "are you ai",
		},
		Confirmation: []string{
			"yes", "yeah", "yep", "sure", "please", "ok", "okay",
			"go ahead", "do it", "operator", "human", "please do",
		},
		Contacts: []ContactRule{
			{Class: string(ContactBroker), Keywords: []string{"commission", "broker", "agency fee", "partner program", "referral fee"}, Escalate: true},
			{Class: string(ContactResident), Keywords: []string{"my apartment", "my unit", "management company", "maintenance request", "utility bill"}, Escalate: true},
			{Class: string(ContactSupplier), Keywords: []string{"invoice", "procurement", "our company offers", "commercial proposal", "cooperation proposal"}, Escalate: true},
			{Class: string(ContactSpam), Keywords: []string{"crypto signals", "earn from home", "casino", "promo code", "click this link"}},
		},
		Topic: TopicRules{
			Relevant: []string{
				"apartment", "flat", "unit", "floor", "price", "buy",
				"purchase", "viewing", "layout", "parking", "mortgage",
				"installment", "completion", "move in", "availability",
				"square", "bedroom", "deposit", "booking",
			},
			InPerson: []string{
				"mortgage", "installment", "discount", "negotiate",
				"payment plan", "legal", "contract details",
			},
		},
	}
}
