package domain

// Telemetry bridge messages.

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Event  SensorUpdateEvent
	Retain bool
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}
