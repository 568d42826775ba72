// Package worker runs the asynchronous side of the engine on asynq: event
// processing, routing evaluation, the decay sweep, and outbound dispatch.
// Handlers take a per-lead Redis lease before mutating and translate the
// error taxonomy into asynq retry behavior.
package worker

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskLeadEventProcess = "lead.event.process"

const TaskLeadRoutingEvaluate = "lead.routing.evaluate"

const TaskLeadDecaySweep = "lead.decay.sweep"

const TaskOutboundDispatch = "outbound.dispatch"

type LeadEventProcessPayload struct {
	LeadID  string `json:"leadId"`
	EventID string `json:"eventId"`
}

type LeadRoutingEvaluatePayload struct {
	LeadID string `json:"leadId"`
}

type OutboundDispatchPayload struct {
	OutboxID string `json:"outboxId"`
}

func NewLeadEventProcessTask(payload LeadEventProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadEventProcess, data), nil
}

func ParseLeadEventProcessPayload(task *asynq.Task) (LeadEventProcessPayload, error) {
	var payload LeadEventProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadEventProcessPayload{}, err
	}
	return payload, nil
}

func NewLeadRoutingEvaluateTask(payload LeadRoutingEvaluatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadRoutingEvaluate, data), nil
}

func ParseLeadRoutingEvaluatePayload(task *asynq.Task) (LeadRoutingEvaluatePayload, error) {
	var payload LeadRoutingEvaluatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadRoutingEvaluatePayload{}, err
	}
	return payload, nil
}

func NewLeadDecaySweepTask() *asynq.Task {
	return asynq.NewTask(TaskLeadDecaySweep, nil)
}

func NewOutboundDispatchTask(payload OutboundDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboundDispatch, data), nil
}

func ParseOutboundDispatchPayload(task *asynq.Task) (OutboundDispatchPayload, error) {
	var payload OutboundDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OutboundDispatchPayload{}, err
	}
	return payload, nil
}
