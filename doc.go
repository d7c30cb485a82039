// Package gammahook redirects a Windows process's gamma ramp changes
// to an HTTP listener by injecting a companion module and patching
// gdi32!SetDeviceGammaRamp.
//
// APIs are separated into subpackages, and documented accordingly:
//
//   - process opens foreign processes, injects and ejects modules,
//     manages remote memory and threads and resolves remote symbols
//   - patch writes and restores absolute jumps
//   - hook ties the two together into an installable hook
//   - selector finds the process to hook
//   - config and logging are used by the gammahook command
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, an exit handler function is invoked.
package gammahook
