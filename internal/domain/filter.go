package domain

// ForParticipant prepares a participation for delivery to its own participant.
// Participant identity, per-answer question copies and the course reference are
// dropped. The client already holds the quiz it answered.
func ForParticipant(p Participation) Participation {
	out := p
	out.Participant = nil
	out.ParticipantID = ""

	if p.Exercise != nil {
		quiz := p.Exercise.WithoutCourse()
		out.Exercise = &quiz
	}

	if p.Submission != nil {
		sub := *p.Submission
		sub.Answers = make([]SubmittedAnswer, len(p.Submission.Answers))
		for i, answer := range p.Submission.Answers {
			answer.Question = nil
			sub.Answers[i] = answer
		}
		out.Submission = &sub
	}

	if p.Result != nil {
		result := *p.Result
		out.Result = &result
	}
	return out
}
