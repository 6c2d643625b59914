package pkg

import (
	"errors"
	"fmt"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// ClientError es un error imputable a la petición del cliente (4xx).
// Nunca se traduce a un fallo de upstream
type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	return e.Message
}

// NewClientError crea un error de cliente con el status indicado
func NewClientError(status int, format string, args ...interface{}) *ClientError {
	return &ClientError{
		Status:  status,
		Message: fmt.Sprintf(format, args...),
	}
}

// ClassifyUpstreamError traduce un error de una llamada al upstream en el
// par (status, mensaje) que se devuelve al cliente. Si el proveedor llegó a
// responder con un status, ese status se retransmite; un fallo de conexión
// o de credenciales se reporta como 502
func ClassifyUpstreamError(err error) (int, string) {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Status, clientErr.Message
	}

	var responseErr *awshttp.ResponseError
	if errors.As(err, &responseErr) {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return responseErr.HTTPStatusCode(), fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return responseErr.HTTPStatusCode(), err.Error()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway, fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}

	return http.StatusBadGateway, err.Error()
}

// WriteJSONError escribe una respuesta de error con cuerpo {"error": ...}
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error": %q}`, message)
}
