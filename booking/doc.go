// Package booking is the DSP booking catalog served by dsp-mcp: the backend's
// security schemes, the three booking tools with their response formatters,
// the travel-assistant prompts and the supported-route resources.
package booking
