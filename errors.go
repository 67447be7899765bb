package kernel

// Error is a kernel result code. The zero value is never used as an
// error; success is reported as a nil error, the idiomatic Go
// rendering of KERNEL_OK.
type Error int

// Kernel error kinds. Each is local/recoverable: a call either
// succeeds, returns one of these directly, or blocks and eventually
// returns one of these via the awakened task's recorded block result.
const (
	ErrParam    Error = -1 // invalid argument, no state change
	ErrNoMem    Error = -2 // static pool exhausted
	ErrTimeout  Error = -3 // blocking call's deadline elapsed
	ErrISR      Error = -4 // blocking operation attempted from ISR context
	ErrState    Error = -5 // invalid state for the requested operation
	ErrDeleted  Error = -6 // operation on a task that has already been deleted
	ErrOverflow Error = -7 // bounded primitive is full/at its count limit
)

func (e Error) Error() string {
	switch e {
	case ErrParam:
		return "kernel: invalid parameter"
	case ErrNoMem:
		return "kernel: no free slot"
	case ErrTimeout:
		return "kernel: timeout"
	case ErrISR:
		return "kernel: invalid call from interrupt context"
	case ErrState:
		return "kernel: invalid state"
	case ErrDeleted:
		return "kernel: object deleted"
	case ErrOverflow:
		return "kernel: overflow"
	default:
		return "kernel: unknown error"
	}
}
