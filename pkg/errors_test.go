package pkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

func TestClassifyClientError(t *testing.T) {
	err := fmt.Errorf("converse: %w", NewClientError(http.StatusBadRequest, "modelId is required"))

	status, message := ClassifyUpstreamError(err)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", status)
	}
	if message != "modelId is required" {
		t.Errorf("Unexpected message: %q", message)
	}
}

func TestClassifyUpstreamResponseError(t *testing.T) {
	// Error tal y como lo envuelve el SDK: operación > respuesta HTTP > API
	err := &smithy.OperationError{
		ServiceID:     "Bedrock Runtime",
		OperationName: "Converse",
		Err: &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{
					Response: &http.Response{StatusCode: http.StatusTooManyRequests},
				},
				Err: &smithy.GenericAPIError{
					Code:    "ThrottlingException",
					Message: "Too many requests",
				},
			},
			RequestID: "req-1",
		},
	}

	status, message := ClassifyUpstreamError(err)
	if status != http.StatusTooManyRequests {
		t.Errorf("Expected upstream status relayed, got %d", status)
	}
	if message != "ThrottlingException: Too many requests" {
		t.Errorf("Unexpected message: %q", message)
	}
}

func TestClassifyAPIErrorWithoutResponse(t *testing.T) {
	err := &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not authorized"}

	status, message := ClassifyUpstreamError(err)
	if status != http.StatusBadGateway {
		t.Errorf("Expected 502 without an HTTP status, got %d", status)
	}
	if message != "AccessDeniedException: not authorized" {
		t.Errorf("Unexpected message: %q", message)
	}
}

func TestClassifyGenericError(t *testing.T) {
	status, message := ClassifyUpstreamError(errors.New("dial tcp: connection refused"))

	if status != http.StatusBadGateway {
		t.Errorf("Expected 502 for connection errors, got %d", status)
	}
	if message != "dial tcp: connection refused" {
		t.Errorf("Unexpected message: %q", message)
	}
}

func TestWriteJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusNotFound, `Operation "X" not found`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got: %q", ct)
	}

	var doc map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Expected valid JSON body, got: %q", rec.Body.String())
	}
	if doc["error"] != `Operation "X" not found` {
		t.Errorf("Unexpected error payload: %v", doc)
	}
}
