package store

// schemaDDL is the canonical, idempotent schema migration run once per
// connection open.
//
// Map tables are keyed by (measurement id, mac/bssid) and rely on
// INSERT OR IGNORE for idempotency within one measurement's commit.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS measurement (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	startTime         REAL NOT NULL,
	endTime           REAL NOT NULL,
	duration          REAL NOT NULL,
	channel           INTEGER NOT NULL,
	averageNoise      REAL,
	stdDevNoise       REAL,
	hasBeenUploaded   INTEGER NOT NULL DEFAULT 0,
	extraData         TEXT
);

CREATE INDEX IF NOT EXISTS idx_measurement_upload
	ON measurement (hasBeenUploaded, startTime);

CREATE TABLE IF NOT EXISTS station (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	macAddress TEXT NOT NULL UNIQUE,
	extraData  TEXT
);

CREATE TABLE IF NOT EXISTS serviceSet (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	bssid     TEXT NOT NULL UNIQUE,
	ssid      BLOB,
	hasSSID   INTEGER NOT NULL DEFAULT 0,
	extraData TEXT
);

CREATE TABLE IF NOT EXISTS measurementStationMap (
	mapMeasurementID         INTEGER NOT NULL REFERENCES measurement(id) ON DELETE CASCADE,
	mapStationID             INTEGER NOT NULL REFERENCES station(id),
	managementFrameCount     INTEGER NOT NULL DEFAULT 0,
	associationFrameCount    INTEGER NOT NULL DEFAULT 0,
	reassociationFrameCount  INTEGER NOT NULL DEFAULT 0,
	disassociationFrameCount INTEGER NOT NULL DEFAULT 0,
	controlFrameCount        INTEGER NOT NULL DEFAULT 0,
	rtsFrameCount            INTEGER NOT NULL DEFAULT 0,
	ctsFrameCount            INTEGER NOT NULL DEFAULT 0,
	ackFrameCount            INTEGER NOT NULL DEFAULT 0,
	dataFrameCount           INTEGER NOT NULL DEFAULT 0,
	retryFrameCount          INTEGER NOT NULL DEFAULT 0,
	dataThroughputIn         INTEGER NOT NULL DEFAULT 0,
	dataThroughputOut        INTEGER NOT NULL DEFAULT 0,
	failedFCSCount           INTEGER NOT NULL DEFAULT 0,
	averagePower             REAL,
	stdDevPower              REAL,
	lowestRate               REAL,
	highestRate              REAL,
	PRIMARY KEY (mapMeasurementID, mapStationID)
);

CREATE TABLE IF NOT EXISTS infrastructureStationServiceSetMap (
	mapMeasurementID INTEGER NOT NULL REFERENCES measurement(id) ON DELETE CASCADE,
	mapServiceSetID  INTEGER NOT NULL REFERENCES serviceSet(id),
	mapStationID     INTEGER NOT NULL REFERENCES station(id),
	PRIMARY KEY (mapMeasurementID, mapServiceSetID, mapStationID)
);

CREATE TABLE IF NOT EXISTS associationStationServiceSetMap (
	mapMeasurementID INTEGER NOT NULL REFERENCES measurement(id) ON DELETE CASCADE,
	mapServiceSetID  INTEGER NOT NULL REFERENCES serviceSet(id),
	mapStationID     INTEGER NOT NULL REFERENCES station(id),
	PRIMARY KEY (mapMeasurementID, mapServiceSetID, mapStationID)
);

CREATE TABLE IF NOT EXISTS serviceSetJitterMeasurement (
	mapMeasurementID INTEGER NOT NULL REFERENCES measurement(id) ON DELETE CASCADE,
	mapServiceSetID  INTEGER NOT NULL REFERENCES serviceSet(id),
	beaconInterval   INTEGER NOT NULL,
	minJitter        REAL NOT NULL,
	maxJitter        REAL NOT NULL,
	avgJitter        REAL NOT NULL,
	stdDevJitter     REAL NOT NULL,
	badIntervals     INTEGER NOT NULL DEFAULT 0,
	histogram        TEXT NOT NULL,
	extraData        TEXT,
	PRIMARY KEY (mapMeasurementID, mapServiceSetID)
);

CREATE TABLE IF NOT EXISTS keyValueStore (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
