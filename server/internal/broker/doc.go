// Package broker connects the pipeline to its message transports.
//
// MQTT (paho) serves as both the telemetry feed and the command publisher.
// KafkaFeed and KafkaPublisher (kafka-go) are drop-in alternatives for
// either side. Feeds deliver into a bounded inbox that drops the oldest
// message when the consumer lags; Publish calls block until the transport
// acknowledges or the publish timeout elapses.
package broker
