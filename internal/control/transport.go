package control

import "context"

// Transport is the wire collaborator the facade calls out to: the three
// RPC methods a real Service Control client exposes. Its implementation
// (JSON/protobuf codec, HTTP/gRPC client, retries) is outside this
// module's scope; demo/transport ships a reference in-memory
// implementation for local development and integration tests.
type Transport interface {
	Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error)
	AllocateQuota(ctx context.Context, req *AllocateQuotaRequest) (*AllocateQuotaResponse, error)
	Report(ctx context.Context, req *ReportRequest) error
}
