package agent

// EventType identifies an event fed into the state machine.
type EventType string

const (
	EventUserMessage   EventType = "user_message"
	EventUserConfirm   EventType = "user_confirm"
	EventUserReject    EventType = "user_reject"
	EventUserModify    EventType = "user_modify"
	EventActionSuccess EventType = "action_success"
	EventActionFailure EventType = "action_failure"
	EventCancel        EventType = "cancel"
)

// Event is one input to the state machine. Only the fields relevant
// to the Type are read.
type Event struct {
	Type        EventType
	Text        string                 // user_message
	Attachments []string               // user_message
	Patch       map[string]interface{} // user_modify
	Result      *Result                // action_success
	Err         error                  // action_failure
}
