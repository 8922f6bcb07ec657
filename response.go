package openwire

// Response answers a command that had ResponseRequired set.
type Response struct {
	BaseCommand
	CorrelationID int32
}

func (*Response) DataStructureType() byte { return ResponseType }

// ResponseBase returns the shared response fields.
func (r *Response) ResponseBase() *Response { return r }

func (r *Response) marshalFields(c *fieldCodec) {
	r.BaseCommand.marshalFields(c)
	c.int32(&r.CorrelationID)
}

// ExceptionResponse reports that the correlated command failed.
type ExceptionResponse struct {
	Response
	Exception *BrokerError
}

func (*ExceptionResponse) DataStructureType() byte { return ExceptionResponseType }

func (r *ExceptionResponse) marshalFields(c *fieldCodec) {
	r.Response.marshalFields(c)
	c.throwable(&r.Exception)
}

// NewExceptionResponse builds an ExceptionResponse for the command id.
func NewExceptionResponse(correlationID int32, err *BrokerError) *ExceptionResponse {
	return &ExceptionResponse{
		Response:  Response{CorrelationID: correlationID},
		Exception: err,
	}
}

// DataResponse carries a single structure as the reply.
type DataResponse struct {
	Response
	Data DataStructure
}

func (*DataResponse) DataStructureType() byte { return DataResponseType }

func (r *DataResponse) marshalFields(c *fieldCodec) {
	r.Response.marshalFields(c)
	nested(c, &r.Data)
}

// DataArrayResponse carries a list of structures as the reply.
type DataArrayResponse struct {
	Response
	Data []DataStructure
}

func (*DataArrayResponse) DataStructureType() byte { return DataArrayResponseType }

func (r *DataArrayResponse) marshalFields(c *fieldCodec) {
	r.Response.marshalFields(c)
	nestedArray(c, &r.Data)
}

// IntegerResponse carries an integer result.
type IntegerResponse struct {
	Response
	Result int32
}

func (*IntegerResponse) DataStructureType() byte { return IntegerResponseType }

func (r *IntegerResponse) marshalFields(c *fieldCodec) {
	r.Response.marshalFields(c)
	c.int32(&r.Result)
}

// ResponseError returns the broker error carried by r, or nil when r
// reports success.
func ResponseError(r Responder) error {
	if er, ok := r.(*ExceptionResponse); ok {
		if er.Exception == nil {
			return NewBrokerError(IOExceptionClass, "request failed")
		}
		return er.Exception
	}
	return nil
}
