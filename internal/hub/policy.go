package hub

// IsOwner reports whether caller owns rec.
func IsOwner(rec *Record, caller AccountID) bool {
	return rec != nil && rec.OwnerID == caller
}

// IsSelfAnswer reports whether caller would be answering its own offer.
func IsSelfAnswer(rec *Record, caller AccountID) bool {
	return IsOwner(rec, caller)
}

// AnswerBelongsTo reports whether rec carries an answer published by caller.
func AnswerBelongsTo(rec *Record, caller AccountID) bool {
	return rec != nil && rec.Answer != nil && rec.Answer.AccountID == caller
}
