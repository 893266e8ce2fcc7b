package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StageKey identifies one of the five fixed pipeline stages.
type StageKey string

const (
	StageSummary         StageKey = "summary"
	StageDiagnosis       StageKey = "diagnosis"
	StageCustomerMessage StageKey = "customer_message"
	StageBooking         StageKey = "booking"
	StageOEMInsight      StageKey = "oem_insight"
)

// Stage defines one text-generation task: the agent persona it runs under,
// the instruction given to it, and the output contract it is expected to
// honour. Stage definitions are constructed once at process start and shared
// read-only across all pipeline runs.
type Stage struct {
	Key            StageKey
	Title          string
	Role           string
	Goal           string
	Backstory      string
	Instruction    string
	ExpectedOutput string
}

// stages is the fixed registry, in presentation order. Instruction wording
// is deliberately narrow to keep model outputs predictable.
var stages = [5]Stage{
	{
		Key:   StageSummary,
		Title: "Technical Summary",
		Role:  "Data Monitoring Agent",
		Goal: "Summarize the critical aspects of incoming telemetry and any detected anomaly " +
			"for downstream agents.",
		Backstory: "You are an expert in automotive telematics and CAN bus data. " +
			"You highlight only the most relevant parameters and risks.",
		Instruction: "You are given raw telemetry and an anomaly result. " +
			"Using the following JSON context, summarize the key risk in 2-3 bullet points " +
			"for technical stakeholders. Focus on the parameter deviations and why they matter.",
		ExpectedOutput: "2-3 bullet points summarizing the anomaly and its technical implications.",
	},
	{
		Key:   StageDiagnosis,
		Title: "Diagnosis",
		Role:  "Diagnosis Agent",
		Goal: "Explain the likely failure mode, impacted component, and recommended urgency " +
			"for a preventive service visit.",
		Backstory: "You are a senior automotive diagnostic specialist who understands " +
			"coolant systems, powertrain, and safety implications.",
		Instruction: "Based on the same context, provide a diagnostic explanation:\n" +
			"1) most probable failure mode,\n" +
			"2) specific component affected,\n" +
			"3) recommended urgency (low/medium/high/critical), and\n" +
			"4) a one-line justification.",
		ExpectedOutput: "A short paragraph followed by a bullet list with failure mode, component, " +
			"urgency, and justification.",
	},
	{
		Key:   StageCustomerMessage,
		Title: "Customer Message",
		Role:  "Customer Engagement Agent",
		Goal: "Draft a clear, reassuring message to the vehicle owner explaining the issue " +
			"and proposing a preventive check.",
		Backstory: "You are a courteous service advisor at a premium car brand. " +
			"You avoid technical jargon and do not cause panic.",
		Instruction: "Draft a WhatsApp-style message to the vehicle owner explaining the situation " +
			"in simple language and proposing a preventive service visit. " +
			"Be calm, concise, and do not use technical jargon. " +
			"Close with a question asking for a preferred day (e.g., 'Can I book you in on Tuesday?').",
		ExpectedOutput: "A single message of 3-5 sentences that can be sent directly to the vehicle owner.",
	},
	{
		Key:   StageBooking,
		Title: "Service Booking Instruction",
		Role:  "Scheduling Agent",
		Goal: "Convert customer consent into a precise service booking instruction that " +
			"can be passed to the dealer or CRM system.",
		Backstory: "You are a meticulous booking coordinator familiar with workshop calendars " +
			"and peak load management.",
		Instruction: "Convert the situation into a precise service booking instruction for the dealer system. " +
			"Assume the customer has agreed to a visit within the next 3 days. " +
			"Respond ONLY with valid JSON, no extra text, using the fields:\n" +
			"  preferred_date (YYYY-MM-DD),\n" +
			"  preferred_time_window (e.g., '10:00-12:00'),\n" +
			"  workshop_type (e.g., 'authorized_dealer'),\n" +
			"  notes (short text).",
		ExpectedOutput: "Strictly valid JSON object with the keys: preferred_date, preferred_time_window, " +
			"workshop_type, notes.",
	},
	{
		Key:   StageOEMInsight,
		Title: "OEM Reliability Insight",
		Role:  "OEM Insights Agent",
		Goal: "Summarize the incident for OEM R&D, including defect hypothesis and potential " +
			"impact on reliability and safety across the fleet.",
		Backstory: "You are a quality & reliability engineer who feeds structured insights into " +
			"design improvement programs.",
		Instruction: "Write a concise technical summary for OEM R&D. Include:\n" +
			"- VIN\n" +
			"- component\n" +
			"- severity\n" +
			"- defect hypothesis\n" +
			"- potential impact on safety and reliability across the fleet.\n" +
			"Limit to 4-6 bullet points.",
		ExpectedOutput: "4-6 bullet points that can be pasted into an OEM defect tracking system.",
	},
}

// Stages returns the five stage definitions in their fixed execution and
// presentation order. The returned slice is a copy.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages[:])
	return out
}

// Persona renders the agent identity passed to the text-generation capability
// as the system role for this stage.
func (st Stage) Persona() string {
	return fmt.Sprintf("You are the %s. %s %s", st.Role, st.Goal, st.Backstory)
}

// Prompt renders the full instruction text for a context: the stage
// instruction, the expected-output contract, and the serialized context.
func (st Stage) Prompt(c Context) (string, error) {
	ctxJSON, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal context for stage %s: %w", st.Key, err)
	}
	return fmt.Sprintf("%s\n\nExpected output: %s\n\nContext: %s",
		st.Instruction, st.ExpectedOutput, ctxJSON), nil
}

// BookingInstruction is the strict output contract of the booking stage.
type BookingInstruction struct {
	PreferredDate       string `json:"preferred_date"`
	PreferredTimeWindow string `json:"preferred_time_window"`
	WorkshopType        string `json:"workshop_type"`
	Notes               string `json:"notes"`
}

// ParseBooking attempts to parse a booking stage output against the JSON
// contract. Markdown code fences around the object are tolerated. A failed
// parse is a soft failure: the caller keeps the raw text and gets ok=false.
func ParseBooking(raw string) (*BookingInstruction, bool) {
	text := strings.TrimSpace(raw)
	if after, found := strings.CutPrefix(text, "```json"); found {
		text = after
	} else if after, found := strings.CutPrefix(text, "```"); found {
		text = after
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	var booking BookingInstruction
	if err := json.Unmarshal([]byte(text), &booking); err != nil {
		return nil, false
	}
	if booking.PreferredDate == "" {
		return nil, false
	}
	return &booking, true
}
