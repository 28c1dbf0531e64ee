package models

import (
	"fmt"
	"strings"
)

// TestStep is one manual step of a test case and its expected outcome
type TestStep struct {
	Step            string `json:"step" validate:"required"`
	ExpectedResults string `json:"expectedResults"`
}

// TestCase is the manual test case an agent is asked to execute
type TestCase struct {
	TestCaseID      string     `json:"testCaseId"`
	TestDescription string     `json:"testDescription"`
	Preconditions   string     `json:"preconditions"`
	TestSteps       []TestStep `json:"testSteps" validate:"required,min=1,dive"`
	ExpectedResults string     `json:"expectedResults"`
	Postconditions  string     `json:"Postconditions"`
	UID             string     `json:"uid"`
}

// Instruction renders the test case into the task description handed to the automation engine
func (tc *TestCase) Instruction() string {
	var b strings.Builder

	if tc.TestDescription != "" {
		fmt.Fprintf(&b, "Test case: %s\n", tc.TestDescription)
	}
	if tc.Preconditions != "" {
		fmt.Fprintf(&b, "Preconditions: %s\n", tc.Preconditions)
	}
	for i, step := range tc.TestSteps {
		fmt.Fprintf(&b, "Step %d: %s", i+1, step.Step)
		if step.ExpectedResults != "" {
			fmt.Fprintf(&b, " (expected: %s)", step.ExpectedResults)
		}
		b.WriteString("\n")
	}
	if tc.ExpectedResults != "" {
		fmt.Fprintf(&b, "Expected results: %s\n", tc.ExpectedResults)
	}

	return strings.TrimRight(b.String(), "\n")
}

// TestCaseDetails is the LLM-generated write-up of an executed test case
type TestCaseDetails struct {
	DetailsSteps    interface{} `json:"detailsSteps"`
	BDDSteps        interface{} `json:"bddSteps"`
	RevisedTestCase interface{} `json:"revisedTestCase"`
	TestCaseID      interface{} `json:"testCaseId"`
}
