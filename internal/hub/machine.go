package hub

// The transition functions below are pure: they never mutate cur and return
// either a complete next record or an error, never both.

func nextForOffer(cur *Record, offer *string, isNew bool, caller AccountID) (*Record, error) {
	if isNew {
		if cur != nil && !IsOwner(cur, caller) {
			return nil, ErrUnauthorized
		}
		return &Record{
			OwnerID:         caller,
			Offer:           cloneString(offer),
			RestreamHistory: []string{},
		}, nil
	}

	if cur == nil {
		return nil, ErrNotFound
	}
	if !IsOwner(cur, caller) {
		return nil, ErrUnauthorized
	}
	next := cur.Clone()
	next.Offer = cloneString(offer)
	return &next, nil
}

func nextForAnswer(cur *Record, payload string, isNew bool, expectedOffer, restreamKey string, caller AccountID) (*Record, error) {
	if cur == nil {
		return nil, ErrNotFound
	}
	if IsSelfAnswer(cur, caller) {
		return nil, ErrSelfAnswerForbidden
	}
	if cur.Offer == nil || *cur.Offer != expectedOffer {
		return nil, ErrOfferMismatch
	}
	if isNew {
		if cur.Answer != nil {
			return nil, ErrAnswerAlreadyPresent
		}
	} else {
		if cur.Answer == nil {
			return nil, ErrMissingPriorAnswer
		}
		if !AnswerBelongsTo(cur, caller) {
			return nil, ErrAnswerOwnerMismatch
		}
	}

	next := cur.Clone()
	next.Answer = &Answer{
		AccountID:   caller,
		Payload:     payload,
		RestreamKey: restreamKey,
	}
	return &next, nil
}

func nextForConsume(cur *Record, expected Answer, caller AccountID) (*Record, error) {
	if cur == nil {
		return nil, ErrNotFound
	}
	if !IsOwner(cur, caller) {
		return nil, ErrUnauthorized
	}

	next := cur.Clone()
	next.RestreamHistory = append(next.RestreamHistory, expected.RestreamKey)
	if cur.Answer == nil || !cur.Answer.Equal(expected) {
		// next is discarded; the append above never reaches the store.
		return nil, ErrAnswerChanged
	}
	next.Offer = nil
	next.Answer = nil
	return &next, nil
}
