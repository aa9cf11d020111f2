// Package generation defines the provider-agnostic contract between the
// orchestration engine and the backends that produce content: the content
// types the engine understands, the payload and result shapes, the provider
// interface with a content-type router, and the error taxonomy the retry
// policy classifies failures against.
package generation
