package hivesync

// Version is the library release reported in the default User-Agent.
const Version = "0.3.0"

const defaultUserAgent = "hivesync/" + Version
