// Package mocks holds gomock mocks for the broker's collaborator interfaces.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=sink_mock.go github.com/jrsteele09/go-sso-broker/audit Sink
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=notifier_mock.go github.com/jrsteele09/go-sso-broker/notify Notifier
