// Package remote defines the interface to the asynchronous Metadata API
// collaborator: submit a metadata operation, receive an opaque handle, and
// poll that handle until the remote side reports a terminal status.
//
// The package owns the error taxonomy used to classify submit and poll
// failures, and ships a SOAP client implementation for the Salesforce
// Metadata API. Batch code depends only on the Operations interface, so tests
// and alternative transports can swap the collaborator out wholesale.
package remote
