// Promptrelay is a small HTTP relay in front of a ComfyUI generation engine.
// It accepts a positive/negative prompt pair, embeds it into a fixed
// text-to-image workflow, and queues that workflow on the engine, handing the
// engine's job acknowledgement back to the caller.
package promptrelay
