package prompts

import (
	"github.com/cloudwego/eino/components/prompt"
)

// SystemPrompts contains all the prompt templates organized by pipeline stage
type SystemPrompts struct {
	// Requirement analysis
	RequirementAnalysis prompt.ChatTemplate

	// Script synthesis
	ScriptSynthesis prompt.ChatTemplate
	ScriptRefine    prompt.ChatTemplate

	// Clarification
	ClarifyingQuestions prompt.ChatTemplate
}

// NewSystemPrompts creates and initializes all prompt templates
func NewSystemPrompts() *SystemPrompts {
	sp := &SystemPrompts{}
	sp.initializePrompts()
	return sp
}

// initializePrompts sets up all the prompt templates
func (sp *SystemPrompts) initializePrompts() {
	sp.RequirementAnalysis = sp.createRequirementAnalysisTemplate()
	sp.ScriptSynthesis = sp.createScriptSynthesisTemplate()
	sp.ScriptRefine = sp.createScriptRefineTemplate()
	sp.ClarifyingQuestions = sp.createClarifyingQuestionsTemplate()
}
