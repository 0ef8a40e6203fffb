package wallbox

// Redacted replaces credential material in log output.
const Redacted = "*redacted*"
