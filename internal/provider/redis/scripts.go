package redis

// putRunScript creates a run only if its id is free and, for revisions, its
// parent exists.
// KEYS[1]=run KEYS[2]=run index [KEYS[3]=parent run KEYS[4]=parent children]
// ARGV[1]=data ARGV[2]=score ARGV[3]=run id
// Returns 1 on success, 0 if the run exists, -1 if the parent is missing.
const putRunScript = `
if #KEYS > 2 and redis.call('EXISTS', KEYS[3]) == 0 then
  return -1
end
if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
if #KEYS > 2 then
  redis.call('ZADD', KEYS[4], ARGV[2], ARGV[3])
end
return 1
`

// putOnceScript writes a string artifact once, only while its run exists.
// KEYS[1]=run KEYS[2]=artifact ARGV[1]=data
// Returns 1 on success, 0 if the artifact exists, -1 if the run is missing.
const putOnceScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if not redis.call('SET', KEYS[2], ARGV[1], 'NX') then
  return 0
end
return 1
`

// putFieldOnceScript writes a hash field once, only while its run exists.
// KEYS[1]=run KEYS[2]=hash ARGV[1]=field ARGV[2]=data
const putFieldOnceScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2])
`

// casScript replaces a run document if its stored version matches.
// KEYS[1]=run ARGV[1]=expected version ARGV[2]=data
// Returns 1 on success, 0 on version mismatch, -1 if the run is missing.
const casScript = `
local cur = redis.call('GET', KEYS[1])
if not cur then
  return -1
end
local run = cjson.decode(cur)
if tonumber(run['version']) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
return 1
`
