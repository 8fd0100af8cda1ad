package biz

import (
	"context"
	"fmt"

	"RxGate/internal/model"
)

// Turn is one inbound user turn delivered to the workflow.
type Turn struct {
	Text    string
	Channel model.Channel
	PAID    string

	// ASRConfidence is the speech recognizer's confidence for voice turns.
	// Nil when the recognizer did not report one.
	ASRConfidence *float64

	// ExplicitIntent carries a structured intent selection from channels
	// that offer one (web forms). When set, classification is bypassed.
	ExplicitIntent model.Intent
}

const defaultASRConfidence = 0.5

// resolveIntent produces the intent for a turn, applying the channel rules:
// structured web input is trusted outright, voice turns inherit the
// recognizer's confidence, everything else keeps the classifier's
// self-reported score.
func (uc *WorkflowUsecase) resolveIntent(ctx context.Context, turn Turn) (*model.IntentResult, error) {
	if turn.Channel == model.ChannelWeb && turn.ExplicitIntent != "" {
		return &model.IntentResult{
			Intent:           turn.ExplicitIntent,
			Confidence:       1.0,
			ConfidenceSource: model.ConfidenceWebForm,
			Reasoning:        "structured form selection",
		}, nil
	}

	result, err := uc.classifier.Classify(ctx, turn.Text)
	if err != nil {
		return nil, fmt.Errorf("intent classification failed: %w", err)
	}

	if turn.Channel == model.ChannelVoice {
		conf := defaultASRConfidence
		if turn.ASRConfidence != nil {
			conf = *turn.ASRConfidence
		}
		result.Confidence = conf
		result.ConfidenceSource = model.ConfidenceASR
		if result.ASRMetadata == nil {
			result.ASRMetadata = map[string]string{}
		}
		result.ASRMetadata["confidence_source"] = "recognizer"
	} else {
		result.ConfidenceSource = model.ConfidenceClassifier
	}

	return result, nil
}
