package model

import "fmt"

// ActionMethod names the handler that executes an action. Values are stored in
// test_workflow_step_action_maps.action_method.
type ActionMethod string

const (
	ActionMethodReceiveSample     ActionMethod = "receive_sample"
	ActionMethodPerformGrossing   ActionMethod = "perform_grossing"
	ActionMethodPerformMicrotomy  ActionMethod = "perform_microtomy"
	ActionMethodSendToStaining    ActionMethod = "send_to_staining"
	ActionMethodPerformStaining   ActionMethod = "perform_staining"
	ActionMethodSendToImaging     ActionMethod = "send_to_imaging"
	ActionMethodPerformImaging    ActionMethod = "perform_imaging"
	ActionMethodPrintLabel        ActionMethod = "print_label"
	ActionMethodCompleteWetLab    ActionMethod = "complete_wet_lab"
	ActionMethodAssignPathologist ActionMethod = "assign_pathologist"
	ActionMethodPrepareReport     ActionMethod = "prepare_report"
	ActionMethodSignOutReport     ActionMethod = "sign_out_report"
)

var actionMethodKinds = map[ActionMethod]EntityKind{
	ActionMethodReceiveSample:     EntityKindSample,
	ActionMethodPerformGrossing:   EntityKindSample,
	ActionMethodPerformMicrotomy:  EntityKindSample,
	ActionMethodSendToStaining:    EntityKindSample,
	ActionMethodPerformStaining:   EntityKindSample,
	ActionMethodSendToImaging:     EntityKindSample,
	ActionMethodPerformImaging:    EntityKindSample,
	ActionMethodPrintLabel:        EntityKindSample,
	ActionMethodCompleteWetLab:    EntityKindSample,
	ActionMethodAssignPathologist: EntityKindReportOption,
	ActionMethodPrepareReport:     EntityKindReportOption,
	ActionMethodSignOutReport:     EntityKindReportOption,
}

// ParseActionMethod validates a stored action method name.
func ParseActionMethod(s string) (ActionMethod, error) {
	m := ActionMethod(s)
	if _, ok := actionMethodKinds[m]; !ok {
		return "", fmt.Errorf("unknown action method %q", s)
	}
	return m, nil
}

// AppliesTo reports whether the method can run against entities of the given kind.
func (m ActionMethod) AppliesTo(kind EntityKind) bool {
	k, ok := actionMethodKinds[m]
	return ok && k == kind
}
