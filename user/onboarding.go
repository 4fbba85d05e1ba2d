package user

// OnboardingStep is the next page a signed in user has to complete
type OnboardingStep string

// Defining the onboarding steps, in order
const (
	StepUserAccount  OnboardingStep = "user-account"
	StepOrganization OnboardingStep = "organization"
	StepDone         OnboardingStep = "done"
)

// NextOnboardingStep returns where the user should go next: a profile without a name
// comes first, then a user without any organization
func NextOnboardingStep(u *User, organizationCount int64) OnboardingStep {
	if u == nil || u.Name == "" {
		return StepUserAccount
	}
	if organizationCount == 0 {
		return StepOrganization
	}
	return StepDone
}
